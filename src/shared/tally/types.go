package tally

import (
	"encoding/json"
	"time"
)

// Organization is a DAO record as returned by the Tally API.
type Organization struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	ProposalsCount int    `json:"proposalsCount"`
}

// Proposal is a governance proposal as returned by the Tally API.
type Proposal struct {
	ID     string
	Title  string
	Status string
	Start  time.Time
	End    time.Time
}

type pageInfo struct {
	LastCursor string `json:"lastCursor"`
	Count      int    `json:"count"`
}

type organizationsPage struct {
	Organizations struct {
		Nodes    []Organization `json:"nodes"`
		PageInfo pageInfo       `json:"pageInfo"`
	} `json:"organizations"`
}

type organizationResult struct {
	Organization *Organization `json:"organization"`
}

// proposalNode matches the wire shape of a Tally proposal; timestamps arrive
// nested under start/end blocks.
type proposalNode struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Start    timestampBlock `json:"start"`
	End      timestampBlock `json:"end"`
	Metadata struct {
		Title string `json:"title"`
	} `json:"metadata"`
}

type timestampBlock struct {
	Timestamp string `json:"timestamp"`
}

func (b timestampBlock) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, b.Timestamp); err == nil {
			return ts
		}
	}
	return time.Time{}
}

type proposalsPage struct {
	Proposals struct {
		Nodes    []proposalNode `json:"nodes"`
		PageInfo pageInfo       `json:"pageInfo"`
	} `json:"proposals"`
}

func (n proposalNode) toProposal() Proposal {
	return Proposal{
		ID:     n.ID,
		Title:  n.Metadata.Title,
		Status: n.Status,
		Start:  n.Start.Time(),
		End:    n.End.Time(),
	}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}
