// Package handlers contains default model.Handler handlers.
package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/m-lab/go/rtx"
	"github.com/ooni/ares/model"
)

type stdoutHandler struct{}

func (stdoutHandler) OnEvent(ev model.Event) {
	data, err := json.Marshal(ev)
	rtx.Must(err, "unexpected json.Marshal failure")
	fmt.Printf("%s\n", string(data))
}

// StdoutHandler is a Handler that emits JSONL events on stdout.
var StdoutHandler stdoutHandler

type noHandler struct{}

func (noHandler) OnEvent(ev model.Event) {}

// NoHandler is a Handler that ignores events.
var NoHandler noHandler
