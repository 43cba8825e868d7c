package api

import (
	"github.com/ddoubleg123/carrot-worker-sub002/internal/api/ingests"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/http/websocket"
	"github.com/ddoubleg123/carrot-worker-sub002/internal/job"
	"github.com/google/uuid"
)

const (
	TitleJobUpdate   = "JOB_UPDATE"
	TitleJobComplete = "JOB_COMPLETE"
)

type (
	JobUpdate struct {
		JobId uuid.UUID `json:"jobId"`
		Job   *job.Job  `json:"job"`
	}

	broadcaster struct {
		socketHub     *websocket.SocketHub
		ingestService ingests.Service
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, ingestService ingests.Service) *broadcaster {
	return &broadcaster{socketHub, ingestService}
}

// BroadcastJobUpdate pushes the jobs current state to all connected
// activity clients. Terminal jobs are announced with a distinct title
// so clients can stop watching them.
func (hub *broadcaster) BroadcastJobUpdate(id uuid.UUID) error {
	found, err := hub.ingestService.Job(id)
	if err != nil {
		return err
	}

	title := TitleJobUpdate
	if found.Status.IsTerminal() {
		title = TitleJobComplete
	}

	hub.broadcast(title, JobUpdate{JobId: id, Job: found})
	return nil
}

// connectionSnapshot builds the welcome payload for a newly connected
// activity client: the full job list, so the client starts with the
// current picture rather than waiting for the next update.
func (hub *broadcaster) connectionSnapshot() map[string]interface{} {
	jobs, err := hub.ingestService.AllJobs()
	if err != nil {
		log.Warnf("Failed to build welcome snapshot for activity client: %v\n", err)
		jobs = []*job.Job{}
	}

	return map[string]interface{}{"jobs": jobs}
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"update": update},
		Type:  websocket.Update,
	})
}
