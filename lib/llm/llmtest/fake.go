// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"groupsync/lib/llm"
)

var ErrNoResponse = errors.New("llmtest: no scripted response left")

// Fake returns scripted responses in order and records every prompt.
// Once the script runs out it keeps failing with ErrNoResponse.
type Fake struct {
	mutex     sync.Mutex
	responses []string
	errs      []error
	Prompts   []string
}

func New(responses ...string) *Fake {
	return &Fake{responses: responses}
}

// Failing returns a provider whose every call fails with err.
func Failing(err error) *Fake {
	return &Fake{errs: []error{err}}
}

func (f *Fake) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.Prompts = append(f.Prompts, prompt)

	if len(f.errs) > 0 {
		return llm.Completion{}, f.errs[0]
	}
	if len(f.responses) == 0 {
		return llm.Completion{}, ErrNoResponse
	}
	res := f.responses[0]
	f.responses = f.responses[1:]
	return llm.Completion{Content: res, Model: "fake"}, nil
}

func (f *Fake) Calls() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.Prompts)
}
