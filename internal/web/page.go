package web

import (
	"html/template"

	"github.com/petems/capture-tray/internal/media"
)

var pageTmpl = template.Must(template.New("page").Funcs(template.FuncMap{
	"recording": func(v interface{ Recording(media.Kind) bool }, kind string) bool {
		if kind == "audio" {
			return v.Recording(media.KindAudio)
		}
		return v.Recording(media.KindVideo)
	},
}).Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>capture-tray</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.error { color: #b00020; }
form { display: inline; }
button { margin: 0.2em; }
section { margin-top: 1em; }
</style>
</head>
<body>
{{- $v := .View }}
{{- if not $v.ControlsVisible }}
  {{- if $v.Message }}
  <p class="error">{{ $v.Message }}</p>
  {{- else }}
  <p>Waiting for camera access.</p>
  {{- end }}
{{- else }}
  {{- if $v.Message }}<p class="error">{{ $v.Message }}</p>{{ end }}
  <img id="preview" src="/preview.mjpeg" width="{{ .Width }}" height="{{ .Height }}" alt="Live preview ({{ $v.Facing }})">
  <div>
    <form method="post" action="/actions/capture-image"><button>Capture Image</button></form>
    {{- if $v.Image }}
    <form method="post" action="/actions/save-image"><button>Save Image</button></form>
    {{- end }}
    <form method="post" action="/actions/toggle-video"><button>
      {{- if recording $v "video" }}Stop Recording Video{{ else }}Start Recording Video{{ end -}}
    </button></form>
    {{- if $v.SaveVideoVisible }}
    <form method="post" action="/actions/save-video"><button>Save Video</button></form>
    {{- end }}
    <form method="post" action="/actions/switch-camera"><button>Switch Camera</button></form>
    <form method="post" action="/actions/toggle-audio"><button>
      {{- if recording $v "audio" }}Stop Recording Audio{{ else }}Start Recording Audio{{ end -}}
    </button></form>
  </div>
  {{- if $v.Image }}
  <section><h3>Captured Image</h3><img id="captured" src="{{ .ImageURL }}" alt="Captured"></section>
  {{- end }}
  {{- if $v.Video }}
  <section><h3>Recorded Video</h3><video id="video" src="/artifacts/video" controls></video></section>
  {{- end }}
  {{- if $v.Audio }}
  <section><h3>Recorded Audio</h3><audio id="audio" src="/artifacts/audio" controls></audio></section>
  {{- end }}
{{- end }}
</body>
</html>
`
