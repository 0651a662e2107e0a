package model

import (
	"encoding/json"
	"testing"
)

func TestJobStatusRank(t *testing.T) {
	if !(JobStatusPending.Rank() < JobStatusProcessing.Rank()) {
		t.Error("pending must rank below processing")
	}
	if !(JobStatusProcessing.Rank() < JobStatusSucceeded.Rank()) {
		t.Error("processing must rank below succeeded")
	}
	if JobStatusSucceeded.Rank() != JobStatusFailed.Rank() {
		t.Error("terminal statuses must share a rank")
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]JobStatus{
		"starting":   JobStatusPending,
		"queued":     JobStatusPending,
		"processing": JobStatusProcessing,
		"succeeded":  JobStatusSucceeded,
		"completed":  JobStatusSucceeded,
		"failed":     JobStatusFailed,
		"canceled":   JobStatusFailed,
		"":           JobStatusPending,
	}
	for raw, want := range tests {
		if got := NormalizeStatus(raw); got != want {
			t.Errorf("NormalizeStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestOutputUnmarshal(t *testing.T) {
	var resp JobResponse
	if err := json.Unmarshal([]byte(`{"id":"1","status":"succeeded","output":"a"}`), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Output) != 1 || resp.Output[0] != "a" {
		t.Errorf("single output = %v", resp.Output)
	}

	if err := json.Unmarshal([]byte(`{"id":"1","status":"succeeded","output":["a","b"]}`), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Output) != 2 {
		t.Errorf("list output = %v", resp.Output)
	}

	resp = JobResponse{}
	if err := json.Unmarshal([]byte(`{"id":"1","status":"processing","output":null}`), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Output != nil {
		t.Errorf("null output = %v", resp.Output)
	}
}

func TestToJobKeepsOutputOnlyOnSuccess(t *testing.T) {
	resp := JobResponse{ID: "1", Status: "processing", Output: Output{"partial"}, Error: "ignored"}
	job := resp.ToJob(JobKindTryOn)
	if job.Output != nil || job.Error != "" {
		t.Errorf("non-terminal job carries result fields: %+v", job)
	}
}

func TestDecodeDataURI(t *testing.T) {
	m, err := DecodeDataURI("data:image/png;base64,aGVsbG8=")
	if err != nil {
		t.Fatal(err)
	}
	if m.ContentType != "image/png" || string(m.Data) != "hello" || m.Extension() != "png" {
		t.Errorf("unexpected media %+v", m)
	}
	if EncodeDataURI(m) != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("unexpected encoding %s", EncodeDataURI(m))
	}

	for _, bad := range []string{"https://x/y.png", "data:image/png,plain", "data:image/png;base64,!!!"} {
		if _, err := DecodeDataURI(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestPhase(t *testing.T) {
	for _, p := range []Phase{PhaseUploading, PhaseSubmitting, PhaseProcessing} {
		if !p.InFlight() {
			t.Errorf("%s should be in flight", p)
		}
	}
	for _, p := range []Phase{PhaseIdle, PhaseSucceeded, PhaseFailed} {
		if p.InFlight() {
			t.Errorf("%s should not be in flight", p)
		}
	}
}
