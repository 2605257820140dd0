// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package progress

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type spanKeyType string

var spanKeyName = spanKeyType(uuid.New().String())

type Status string

const (
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

// Tracer keeps the root spans of long-running jobs so that their progress can be
// listed while they run.
type Tracer struct {
	name  string
	mu    sync.Mutex
	spans map[string]*Span
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name, spans: make(map[string]*Span)}
}

// Start creates a root span. It replaces an earlier root span with the same name.
func (t *Tracer) Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := newSpan(nil, name, total)
	t.mu.Lock()
	t.spans[name] = span
	t.mu.Unlock()
	return context.WithValue(ctx, spanKeyName, span), span
}

// List returns the progress of root spans ordered by start time.
func (t *Tracer) List() []Progress {
	t.mu.Lock()
	spans := make([]*Span, 0, len(t.spans))
	for _, span := range t.spans {
		spans = append(spans, span)
	}
	t.mu.Unlock()
	progress := make([]Progress, len(spans))
	for i, span := range spans {
		progress[i] = span.Progress()
		progress[i].Tracer = t.name
	}
	slices.SortFunc(progress, func(a, b Progress) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.Name, b.Name))
	})
	return progress
}

// Span counts the finished steps of a job. Running children subdivide the current step.
type Span struct {
	mu       sync.Mutex
	parent   *Span
	name     string
	status   Status
	total    int
	count    int
	err      string
	start    time.Time
	finish   time.Time
	children []*Span
}

func newSpan(parent *Span, name string, total int) *Span {
	return &Span{
		parent: parent,
		name:   name,
		status: StatusRunning,
		total:  total,
		start:  time.Now(),
	}
}

func (s *Span) Add(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += n
}

// End completes a running span and detaches it from its parent.
func (s *Span) End() {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.status = StatusComplete
		s.count = s.total
		s.finish = time.Now()
	}
	s.mu.Unlock()
	s.detach()
}

// Fail marks the span as failed and detaches it from its parent. The parent decides
// whether the failure ends it too.
func (s *Span) Fail(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.err = err.Error()
	s.finish = time.Now()
	s.mu.Unlock()
	s.detach()
}

func (s *Span) detach() {
	if s.parent == nil {
		return
	}
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	s.parent.children = slices.DeleteFunc(s.parent.children, func(child *Span) bool {
		return child == s
	})
}

// Progress reports the span merged with its earliest running child.
func (s *Span) Progress() Progress {
	s.mu.Lock()
	p := Progress{
		Name:       s.name,
		Status:     s.status,
		Error:      s.err,
		Count:      s.count,
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
	children := slices.Clone(s.children)
	s.mu.Unlock()
	if p.Status != StatusRunning {
		return p
	}
	for _, child := range children {
		c := child.Progress()
		if c.Status == StatusRunning && c.Total > 0 {
			p.Count = p.Count*c.Total + c.Count
			p.Total = p.Total * c.Total
			break
		}
	}
	return p
}

// Start creates a child span of the span carried by ctx. A detached span is returned if
// ctx carries no span.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	parent, _ := ctx.Value(spanKeyName).(*Span)
	span := newSpan(parent, name, total)
	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKeyName, span), span
}

type Progress struct {
	Tracer     string
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
}
