package webhook

import (
	"encoding/json"
	"time"
)

const envelopeSchemaVersion = "1.0"

// actionableEvents lists the GitHub event_name values that can possibly
// lead to a workflow run. Anything else is dropped at the edge with
// reason "event_not_actionable" before it ever reaches the queue.
var actionableEvents = map[string]bool{
	"issues":              true,
	"issue_comment":       true,
	"pull_request":        true,
	"pull_request_review": true,
}

// Source identifies where an envelope came from.
type Source struct {
	System     string `json:"system"`
	Repo       string `json:"repo"`
	DeliveryID string `json:"delivery_id"`
}

// Actor is the GitHub principal that triggered the event, when the payload
// carries one.
type Actor struct {
	Type  string `json:"type"`
	Login string `json:"login"`
}

// TaskRef is the internal task reference extracted from the payload by the
// precedence rule in ExtractIssueNumber: issue, then pull request, then
// project item.
type TaskRef struct {
	Kind string `json:"kind"`
	ID   int    `json:"id"`
	URL  string `json:"url"`
}

// Envelope is the stable internal representation of an inbound delivery;
// every downstream component consumes only this shape, never the raw
// provider payload (spec §4.2 rationale).
type Envelope struct {
	SchemaVersion string          `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Source        Source          `json:"source"`
	Actor         Actor           `json:"actor"`
	TaskRef       *TaskRef        `json:"task_ref,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// repoPayload is the subset of the GitHub payload shape this mapper reads.
// Only the fields needed to build an Envelope are declared; everything
// else stays in the opaque Payload passed through untouched.
type repoPayload struct {
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender *struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"sender"`
	Issue *struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
	PullRequest *struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	} `json:"pull_request"`
	ProjectCard *struct {
		ID      int    `json:"id"`
		URL     string `json:"url"`
	} `json:"project_card"`
}

// IsActionableEvent reports whether eventName is one this orchestrator
// ever acts on. payload is accepted for future event-specific filtering
// (e.g. ignoring issue_comment edits) but unused today.
func IsActionableEvent(eventName string, payload []byte) bool {
	return actionableEvents[eventName]
}

// ExtractIssueNumber derives a numeric task reference from the payload by
// documented precedence: issue, then pull request, then project item.
// Returns nil if none of the three shapes is present.
func ExtractIssueNumber(payload []byte) *int {
	ref := extractTaskRef(payload)
	if ref == nil {
		return nil
	}
	n := ref.ID
	return &n
}

func extractTaskRef(payload []byte) *TaskRef {
	var p repoPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil
	}
	switch {
	case p.Issue != nil && p.Issue.Number != 0:
		return &TaskRef{Kind: "issue", ID: p.Issue.Number, URL: p.Issue.HTMLURL}
	case p.PullRequest != nil && p.PullRequest.Number != 0:
		return &TaskRef{Kind: "pull_request", ID: p.PullRequest.Number, URL: p.PullRequest.HTMLURL}
	case p.ProjectCard != nil && p.ProjectCard.ID != 0:
		return &TaskRef{Kind: "project_item", ID: p.ProjectCard.ID, URL: p.ProjectCard.URL}
	default:
		return nil
	}
}

// Map translates a provider event into the internal Envelope.
func Map(eventName string, deliveryID string, eventID string, payload []byte) Envelope {
	var p repoPayload
	_ = json.Unmarshal(payload, &p)

	env := Envelope{
		SchemaVersion: envelopeSchemaVersion,
		EventType:     eventName,
		EventID:       eventID,
		Timestamp:     time.Now().UTC(),
		Source: Source{
			System:     "github",
			DeliveryID: deliveryID,
		},
		TaskRef: extractTaskRef(payload),
		Payload: json.RawMessage(payload),
	}

	if p.Repository != nil {
		env.Source.Repo = p.Repository.FullName
	}
	if p.Sender != nil {
		env.Actor = Actor{Type: p.Sender.Type, Login: p.Sender.Login}
	}

	return env
}
