package fitness_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"badgerline/internal/domain"
	"badgerline/internal/fitness"
)

const annotatedCSV = "#datatype,string,long,dateTime:RFC3339,dateTime:RFC3339,double,string\r\n" +
	"#group,false,false,true,true,false,true\r\n" +
	"#default,_result,,,,,\r\n" +
	",result,table,_start,_stop,_value,_field\r\n" +
	",,0,2024-01-01T00:00:00Z,2024-01-08T00:00:00Z,5000,steps\r\n" +
	",,1,2024-01-01T00:00:00Z,2024-01-08T00:00:00Z,4.5,distance\r\n" +
	"\r\n"

func TestInfluxSnapshot(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/query" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		query = string(body)
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		_, _ = w.Write([]byte(annotatedCSV))
	}))
	defer srv.Close()

	src := fitness.NewInflux(srv.URL, "token", "org", "wearables", "")
	defer src.Close()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)
	snap, err := src.Snapshot(context.Background(), "user-2", from, to)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Steps != 5000 || snap.Distance != 4.5 || snap.Calories != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if !snap.CollectedAt.Equal(to) {
		t.Fatalf("collected_at should be the window end, got %v", snap.CollectedAt)
	}
	if !strings.Contains(query, `user-2`) || !strings.Contains(query, `wearables`) {
		t.Fatalf("query missing filters: %s", query)
	}
}

func TestInfluxFailureIsCollaboratorError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"unavailable","message":"down"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	src := fitness.NewInflux(srv.URL, "token", "org", "wearables", "activity")
	defer src.Close()
	_, err := src.Snapshot(context.Background(), "u", time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
}

func TestStatic(t *testing.T) {
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	snap, err := fitness.Static{Value: domain.FitnessSnapshot{Steps: 10}}.Snapshot(context.Background(), "u", time.Time{}, to)
	if err != nil || snap.Steps != 10 || !snap.CollectedAt.Equal(to) {
		t.Fatalf("unexpected %+v %v", snap, err)
	}
	boom := errors.New("boom")
	if _, err := (fitness.Static{Err: boom}).Snapshot(context.Background(), "u", time.Time{}, to); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
