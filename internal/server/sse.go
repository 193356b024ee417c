package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"sweeparr/internal/jobs"
)

// streamJob serves a job's frame stream as server-sent events. The
// first event is the current snapshot so late joiners render
// immediately; the stream closes after the terminal status frame.
func (s *Server) streamJob(w http.ResponseWriter, r *http.Request, j *jobs.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := j.Subscribe()
	defer j.Unsubscribe(ch)

	if data, err := json.Marshal(snapshotFrame(j)); err == nil {
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if frame.Kind == jobs.FrameStatus {
				return
			}
		}
	}
}

// snapshotFrame shapes the initial SSE event like a progress frame so
// stream consumers handle one format.
func snapshotFrame(j *jobs.Job) jobs.Frame {
	snap := j.Snapshot()
	return jobs.Frame{
		Kind:     jobs.FrameProgress,
		Progress: snap.Progress,
		Status:   snap.Status,
		Error:    snap.Error,
	}
}
