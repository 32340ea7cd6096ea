package server

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Vital Signs Server</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; max-width: 720px; margin: 2em auto; padding: 0 1em; }
        code { background: #f2f2f2; padding: 2px 5px; border-radius: 3px; }
        #log { background: #111; color: #0f0; font-family: monospace; font-size: 13px;
               padding: 10px; border-radius: 6px; height: 220px; overflow-y: auto; }
        li { margin: 4px 0; }
    </style>
</head>
<body>
    <h1>Vital Signs Server</h1>
    <p>Contactless heart-rate and respiration estimation from video.</p>
    <h2>API</h2>
    <ul>
        <li><code>GET /api/methods</code> — available estimation methods</li>
        <li><code>POST /api/process-video</code> — analyze an uploaded video</li>
        <li><code>POST /api/webcam/start</code> / <code>stop</code> / <code>GET status</code> — webcam capture</li>
        <li><code>GET /api/results?source=upload|webcam</code> — stored analyses</li>
        <li><code>GET /ws/status</code> — live progress (WebSocket)</li>
        <li><code>GET /api/system</code> — host and camera diagnostics</li>
        <li><code>GET /health</code>, <code>GET /metrics</code></li>
    </ul>
    <h2>Live status</h2>
    <div id="log">connecting...</div>
    <script>
        const log = document.getElementById('log');
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws/status');
        ws.onopen = () => { log.textContent = 'connected\n'; };
        ws.onmessage = (ev) => {
            const msg = JSON.parse(ev.data);
            log.textContent += '[' + msg.channel + '/' + msg.stage + '] ' + msg.message + '\n';
            log.scrollTop = log.scrollHeight;
        };
        ws.onclose = () => { log.textContent += 'disconnected\n'; };
    </script>
</body>
</html>
`
