// Package logger is a handler that emits logs
package logger

import (
	"github.com/apex/log"
	"github.com/ooni/ares/model"
)

// Handler is a handler that logs events.
type Handler struct {
	logger log.Interface
}

// NewHandler returns a new logging handler.
func NewHandler(logger log.Interface) *Handler {
	return &Handler{logger: logger}
}

// OnEvent logs the specific event
func (h *Handler) OnEvent(ev model.Event) {
	if ev.QuerySent != nil {
		h.logger.WithFields(log.Fields{
			"attempt":   ev.QuerySent.Attempt,
			"elapsed":   ev.QuerySent.Time,
			"name":      ev.QuerySent.Name,
			"queryID":   ev.QuerySent.QueryID,
			"server":    ev.QuerySent.Server,
			"transport": ev.QuerySent.Transport,
			"type":      ev.QuerySent.Type,
		}).Debug("dns: query out")
	}
	if ev.Response != nil {
		h.logger.WithFields(log.Fields{
			"elapsed":    ev.Response.Time,
			"numAnswers": ev.Response.NumAnswers,
			"queryID":    ev.Response.QueryID,
			"rcode":      ev.Response.Rcode,
			"server":     ev.Response.Server,
			"truncated":  ev.Response.Truncated,
		}).Debug("dns: response in")
	}
	if ev.Retry != nil {
		h.logger.WithFields(log.Fields{
			"attempt":   ev.Retry.Attempt,
			"elapsed":   ev.Retry.Time,
			"name":      ev.Retry.Name,
			"queryID":   ev.Retry.QueryID,
			"reason":    ev.Retry.Reason,
			"server":    ev.Retry.Server,
			"transport": ev.Retry.Transport,
		}).Debug("dns: retry")
	}
	if ev.QueryDone != nil {
		h.logger.WithFields(log.Fields{
			"elapsed": ev.QueryDone.Time,
			"error":   ev.QueryDone.Error,
			"name":    ev.QueryDone.Name,
			"queryID": ev.QueryDone.QueryID,
		}).Debug("dns: query done")
	}
}
