package handlers

import (
	"net/http"
	"path"
	"time"

	"github.com/replk8/voice-agent/services"
)

// ServeMedia streams synthesized audio so Telnyx playback can fetch it
func ServeMedia(svc *services.ServiceContainer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		f, err := svc.Media.Open(name)
		if err != nil {
			status := statusFor(err)
			if status == http.StatusBadRequest {
				// Only generated names exist here.
				status = http.StatusNotFound
			}
			writeDetail(w, status, http.StatusText(status))
			return
		}
		defer f.Close()

		modTime := time.Time{}
		if info, err := f.Stat(); err == nil {
			modTime = info.ModTime()
		}
		if path.Ext(name) == ".mp3" {
			w.Header().Set("Content-Type", "audio/mpeg")
		}
		http.ServeContent(w, r, name, modTime, f)
	}
}
