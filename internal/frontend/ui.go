package frontend

import "net/http"

func pageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(pageHTML))
}

func faviconHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

const pageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Simulate Now</title>
  <style>
    :root {
      --brand: #1f4e79;
      --brand-2: #2e75b6;
      --bg: #f7f7f7;
      --paper: #fff;
      --text: #333;
      --muted: #777;
      --line: #ddd;
      --line-soft: #eee;
      --head: #f0f0f0;
      --ok-bg: #dff0d8;
      --ok-text: #3c763d;
      --bad-bg: #f2dede;
      --bad-text: #a94442;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      background: var(--bg);
      color: var(--text);
      font-family: "Helvetica Neue", Helvetica, Arial, sans-serif;
      font-size: 14px;
      line-height: 1.42857143;
    }

    header {
      background: linear-gradient(to right, var(--brand) 0, var(--brand-2) 100%);
      box-shadow: 0 2px 5px rgba(0, 0, 0, 0.15);
    }

    .container {
      margin: 0 auto;
      padding: 0 15px;
      width: 100%;
      max-width: 1280px;
    }

    .header-inner {
      min-height: 64px;
      display: flex;
      align-items: center;
      justify-content: space-between;
    }

    .brand { color: #fff; font-size: 22px; font-weight: 300; }
    .brand strong { font-weight: 600; }
    .brand-note { color: rgba(255, 255, 255, 0.85); font-size: 13px; }

    main { padding: 18px 0 32px; }

    .card {
      background: var(--paper);
      border: 1px solid var(--line);
      box-shadow: 0 1px 2px rgba(0, 0, 0, 0.05);
      padding: 16px;
      margin-bottom: 16px;
    }

    h1 {
      margin: 0 0 12px;
      font-size: 28px;
      font-weight: 300;
      border-bottom: 1px solid var(--line-soft);
      padding-bottom: 8px;
    }

    h3 { margin: 0; font-size: 15px; font-weight: 600; color: #444; }

    .grid {
      display: grid;
      gap: 14px;
      grid-template-columns: 1fr 1fr;
      margin-bottom: 14px;
    }

    .panel { border: 1px solid var(--line); background: var(--paper); }
    .panel-heading { padding: 10px 12px; border-bottom: 1px solid var(--line); background: var(--head); }
    .panel-body { padding: 10px 12px 12px; }

    table { width: 100%; border-collapse: collapse; }
    th, td {
      padding: 6px 8px;
      border-top: 1px solid var(--line);
      text-align: left;
      font-size: 13px;
    }
    thead th {
      border-bottom: 2px solid var(--line);
      border-top: 0;
      color: #555;
      font-size: 11px;
      text-transform: uppercase;
      letter-spacing: 0.5px;
      background: #fafafa;
    }
    tbody tr:nth-child(odd) td { background: #f9f9f9; }

    .tabs { display: flex; gap: 8px; margin-bottom: 12px; border-bottom: 1px solid var(--line); padding-bottom: 8px; }
    .tab-btn {
      border: 1px solid #c7d7e5;
      background: #f3f8fc;
      color: var(--brand);
      padding: 6px 10px;
      font-size: 12px;
      font-weight: 600;
    }
    .tab-btn.active { background: var(--brand); color: #fff; border-color: var(--brand); }
    .tab-btn:disabled { opacity: 0.45; }

    .btn {
      border: 1px solid var(--brand);
      background: var(--brand);
      color: #fff;
      padding: 7px 14px;
      font-weight: 600;
      cursor: pointer;
    }
    .btn:disabled { opacity: 0.5; cursor: default; }
    .btn-link { background: transparent; color: var(--brand); }

    .pill {
      display: inline-block;
      border-radius: 2px;
      font-size: 11px;
      padding: 2px 6px;
      font-weight: 700;
      text-transform: uppercase;
    }
    .ok { color: var(--ok-text); background: var(--ok-bg); }
    .bad { color: var(--bad-text); background: var(--bad-bg); }
    .warn { color: #8a6d3b; background: #fcf8e3; }

    .hint { margin-top: 8px; color: var(--muted); font-size: 12px; }
    .hidden { display: none; }

    pre {
      background: #272822;
      color: #f8f8f2;
      padding: 10px;
      max-height: 360px;
      overflow: auto;
      font-size: 12px;
      white-space: pre-wrap;
    }

    canvas { width: 100%; height: 220px; border: 1px solid var(--line); background: #fff; }

    .legend span { display: inline-block; margin-right: 10px; font-size: 12px; }
    .legend i { display: inline-block; width: 10px; height: 10px; margin-right: 4px; vertical-align: -1px; }

    @media (max-width: 900px) { .grid { grid-template-columns: 1fr; } }
  </style>
</head>
<body>
  <header>
    <div class="container header-inner">
      <div class="brand"><strong>Simulate</strong> Now</div>
      <div class="brand-note">Upload a line configuration and run it on the simulator</div>
    </div>
  </header>

  <main>
    <div class="container">
      <section class="card">
        <h1>Import Configuration File</h1>
        <form id="upload-form">
          <input type="file" id="file-input" accept=".aml,.xml" />
        </form>
        <div class="hint" id="file-hint">Only .aml and .xml files are accepted.</div>
      </section>

      <section id="model" class="hidden">
        <div class="grid">
          <article class="panel">
            <div class="panel-heading"><h3>Source</h3></div>
            <div class="panel-body">
              <table>
                <thead><tr><th>Name</th><th>Mean (s)</th><th>Sigma (s)</th></tr></thead>
                <tbody id="source-body"></tbody>
              </table>
            </div>
          </article>
          <article class="panel">
            <div class="panel-heading"><h3>Buffers</h3></div>
            <div class="panel-body">
              <table>
                <thead><tr><th>Name</th><th>Max capacity</th></tr></thead>
                <tbody id="buffers-body"></tbody>
              </table>
            </div>
          </article>
        </div>

        <div class="grid">
          <article class="panel">
            <div class="panel-heading"><h3>Operations</h3></div>
            <div class="panel-body">
              <table>
                <thead><tr><th>Name</th><th>Mean (s)</th><th>Sigma (s)</th><th>MTTR %</th></tr></thead>
                <tbody id="operations-body"></tbody>
              </table>
            </div>
          </article>
          <article class="panel">
            <div class="panel-heading"><h3>Experiment</h3></div>
            <div class="panel-body">
              <table>
                <thead><tr><th>Replications</th><th>Warmup (days)</th><th>Horizon (days)</th></tr></thead>
                <tbody id="params-body"></tbody>
              </table>
            </div>
          </article>
        </div>

        <section class="card">
          <div class="tabs">
            <button class="tab-btn" data-ext="aml" disabled>Visual Components</button>
            <button class="tab-btn" data-ext="xml" disabled>inFACTS Studio</button>
          </div>
          <label><input type="checkbox" id="background-toggle" /> Run in background</label>
          <button type="button" class="btn" id="run-btn" disabled>Run</button>
          <span id="run-state"></span>
          <pre id="run-output" class="hidden"></pre>
        </section>

        <div class="grid">
          <article class="panel">
            <div class="panel-heading"><h3>Utilization</h3></div>
            <div class="panel-body">
              <canvas id="util-chart" width="560" height="220"></canvas>
              <div class="legend">
                <span><i style="background:#5cb85c"></i>Busy</span>
                <span><i style="background:#f0ad4e"></i>Blocked</span>
                <span><i style="background:#d9534f"></i>Failed</span>
                <span><i style="background:#ccc"></i>Idle</span>
              </div>
            </div>
          </article>
          <article class="panel">
            <div class="panel-heading"><h3>Work in progress</h3></div>
            <div class="panel-body">
              <canvas id="wip-chart" width="560" height="220"></canvas>
              <div class="hint">Charts are illustrative and not taken from the simulator.</div>
            </div>
          </article>
        </div>
      </section>
    </div>
  </main>

  <script>
    const q = (s) => document.querySelector(s);
    const qq = (s) => Array.from(document.querySelectorAll(s));
    let chosen = null;

    function esc(v) {
      return String(v ?? '').replace(/[&<>"]/g, (c) => ({'&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;'}[c]));
    }

    function rows(id, items, cols) {
      q(id).innerHTML = items.map((it) => '<tr>' + cols.map((c) => '<td>' + esc(it[c]) + '</td>').join('') + '</tr>').join('');
    }

    function extOf(name) {
      const i = name.lastIndexOf('.');
      return i < 0 ? '' : name.slice(i + 1).toLowerCase();
    }

    function drawUtilization(canvas, items) {
      const c = canvas.getContext('2d');
      const w = canvas.width, h = canvas.height, pad = 24;
      c.clearRect(0, 0, w, h);
      if (!items.length) return;
      const band = (w - pad * 2) / items.length;
      const colors = [['busy', '#5cb85c'], ['blocked', '#f0ad4e'], ['failed', '#d9534f'], ['idle', '#ccc']];
      items.forEach((it, i) => {
        let y = h - pad;
        colors.forEach(([k, color]) => {
          const bh = (h - pad * 2) * (it[k] / 100);
          c.fillStyle = color;
          c.fillRect(pad + i * band + 6, y - bh, band - 12, bh);
          y -= bh;
        });
        c.fillStyle = '#555';
        c.font = '11px sans-serif';
        c.fillText(it.name, pad + i * band + 6, h - 6);
      });
    }

    function drawWIP(canvas, points) {
      const c = canvas.getContext('2d');
      const w = canvas.width, h = canvas.height, pad = 24;
      c.clearRect(0, 0, w, h);
      if (!points.length) return;
      const max = Math.max(1, ...points.map((p) => p.wip));
      c.strokeStyle = '#eee';
      for (let i = 0; i < 4; i++) {
        const y = pad + ((h - pad * 2) * i / 3);
        c.beginPath(); c.moveTo(pad, y); c.lineTo(w - pad, y); c.stroke();
      }
      c.strokeStyle = '#2e75b6';
      c.lineWidth = 2;
      c.beginPath();
      points.forEach((p, i) => {
        const x = pad + ((w - pad * 2) * (points.length === 1 ? 0 : i / (points.length - 1)));
        const y = h - pad - ((h - pad * 2) * (p.wip / max));
        if (i === 0) c.moveTo(x, y); else c.lineTo(x, y);
      });
      c.stroke();
    }

    async function loadMock(ext) {
      const r = await fetch('/ui/mock?ext=' + encodeURIComponent(ext));
      if (!r.ok) throw new Error('/ui/mock -> ' + r.status);
      const d = await r.json();
      rows('#source-body', d.layout.source, ['name', 'mean_s', 'sigma_s']);
      rows('#buffers-body', d.layout.buffers, ['name', 'max_capacity']);
      rows('#operations-body', d.layout.operations, ['name', 'mean_s', 'sigma_s', 'mttr_percent']);
      rows('#params-body', [d.parameters], ['replications', 'warmup_days', 'horizon_days']);
      drawUtilization(q('#util-chart'), d.utilization || []);
      drawWIP(q('#wip-chart'), d.wip || []);
      qq('.tab-btn').forEach((b) => {
        const on = b.dataset.ext === ext;
        b.disabled = !on;
        b.classList.toggle('active', on);
        if (on) q('#run-btn').textContent = 'Run ' + b.textContent;
      });
      q('#model').classList.remove('hidden');
    }

    function showOutput(v) {
      const out = q('#run-output');
      out.textContent = typeof v === 'string' ? v : JSON.stringify(v, null, 2);
      out.classList.remove('hidden');
    }

    async function poll(filename) {
      const r = await fetch('/ui/status/' + encodeURIComponent(filename));
      const d = await r.json();
      if (!r.ok) {
        q('#run-state').innerHTML = '<span class="pill bad">error</span>';
        showOutput(d);
        return;
      }
      if (d.status === 'finished') {
        q('#run-state').innerHTML = '<span class="pill ok">finished</span>';
        showOutput(d.result || d);
        q('#run-btn').disabled = false;
        return;
      }
      q('#run-state').innerHTML = '<span class="pill warn">running</span>';
      setTimeout(() => poll(filename), 2000);
    }

    async function run() {
      if (!chosen) return;
      const background = q('#background-toggle').checked;
      const body = new FormData();
      body.append('file', chosen);
      q('#run-btn').disabled = true;
      q('#run-state').innerHTML = '<span class="pill warn">running</span>';
      try {
        const r = await fetch('/ui/run' + (background ? '?mode=background' : ''), { method: 'POST', body });
        const d = await r.json();
        if (!r.ok) {
          q('#run-state').innerHTML = '<span class="pill bad">' + r.status + '</span>';
          showOutput(d);
          q('#run-btn').disabled = false;
          return;
        }
        if (background) {
          poll(d.filename);
          return;
        }
        q('#run-state').innerHTML = '<span class="pill ' + (d.exit_code === 0 ? 'ok' : 'bad') + '">exit ' + d.exit_code + '</span>';
        showOutput(d);
      } catch (err) {
        q('#run-state').innerHTML = '<span class="pill bad">error</span>';
        showOutput(String(err));
      }
      q('#run-btn').disabled = false;
    }

    q('#file-input').addEventListener('change', async (ev) => {
      const f = ev.target.files[0];
      if (!f) return;
      const ext = extOf(f.name);
      if (ext !== 'aml' && ext !== 'xml') {
        q('#file-hint').innerHTML = '<span class="pill bad">rejected</span> ' + esc(f.name) + ' is not an .aml or .xml file.';
        ev.target.value = '';
        return;
      }
      chosen = f;
      ev.target.disabled = true;
      q('#file-hint').textContent = 'File is locked: ' + f.name + '. Refresh the page to upload a new one.';
      q('#run-btn').disabled = false;
      try {
        await loadMock(ext);
      } catch (err) {
        q('#file-hint').textContent = String(err);
      }
    });

    q('#run-btn').addEventListener('click', run);
  </script>
</body>
</html>`
