package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"RigForge/sdk/go/rigforge"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/actions", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]rigforge.ActionSummary{{
			ID:          "bind_skin",
			DisplayName: "Bind Skin",
			Category:    "Skinning",
			Presets:     []string{"game_character"},
		}})
	})
	mux.HandleFunc("/api/v1/invocations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(rigforge.Invocation{ID: "inv-demo", ActionID: "bind_skin", Status: "pending"})
	})
	mux.HandleFunc("/api/v1/invocations/inv-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(rigforge.Invocation{
			ID:       "inv-demo",
			ActionID: "bind_skin",
			Status:   "succeeded",
			Result: &rigforge.ExecutionResult{
				AffectedNodes: []string{"|rig|geo|body_geo"},
				Output:        map[string]any{"skin_cluster": "skinCluster1"},
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := rigforge.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	actions, err := client.ListActions(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("actions: %d, first=%s\n", len(actions), actions[0].DisplayName)

	inv, err := client.SubmitInvocation(ctx, rigforge.Submission{
		ActionID: "bind_skin",
		Preset:   "game_character",
		Overrides: map[string]any{
			"meshes": []string{"body_geo"},
			"joints": []string{"|rig|joints|*"},
		},
	})
	if err != nil {
		panic(err)
	}

	done, err := client.WaitForInvocation(ctx, inv.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("invocation %s finished: %s (%v)\n", done.ID, done.Status, done.Result.Output["skin_cluster"])
}
