package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/evgrid/stationselect/internal/runlog"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to stationselect.db")
	last := flag.Int("last", 20, "show N most recent runs")
	run := flag.String("run", "", "show single run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/stationselect.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	store, err := runlog.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *run != "" {
		if err := runDetailMode(store, *run, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	} else {
		if err := runListMode(store, *last, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string  `json:"run_id"`
	DataPath  string  `json:"data_path"`
	Status    string  `json:"status"`
	Episodes  int     `json:"episodes"`
	FinalLoss float64 `json:"final_loss"`
	Passes    int     `json:"passes"`
	Selected  int     `json:"selected"`
	StartedAt string  `json:"started_at"`
}

func runListMode(store *runlog.Store, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	rows := make([]listRow, len(runs))
	for i, r := range runs {
		lr := listRow{
			RunID:     r.RunID,
			DataPath:  r.DataPath,
			Status:    r.Status,
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		eps, err := store.ListEpisodes(r.RunID)
		if err != nil {
			return err
		}
		lr.Episodes = len(eps)
		if len(eps) > 0 {
			lr.FinalLoss = eps[len(eps)-1].PolicyLoss
		}
		passes, err := store.ListPasses(r.RunID)
		if err != nil {
			return err
		}
		lr.Passes = len(passes)
		for _, p := range passes {
			lr.Selected += p.SelectedCount
		}
		rows[i] = lr
	}

	if jsonOut {
		return printJSON(rows)
	}
	return printListTable(rows)
}

func printListTable(rows []listRow) error {
	fmt.Printf("%-12s  %-10s  %8s  %10s  %6s  %8s  %s\n",
		"Run", "Status", "Episodes", "Final Loss", "Passes", "Selected", "Started")
	fmt.Printf("%-12s+-%-10s+-%8s+-%10s+-%6s+-%8s+-%s\n",
		"------------", "----------", "--------", "----------", "------", "--------", "--------------------")

	for _, r := range rows {
		loss := "—"
		if r.Episodes > 0 {
			loss = fmt.Sprintf("%.4f", r.FinalLoss)
		}
		fmt.Printf("%-12s  %-10s  %8d  %10s  %6d  %8d  %s\n",
			shortID(r.RunID), r.Status, r.Episodes, loss, r.Passes, r.Selected, r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID      string       `json:"run_id"`
	DataPath   string       `json:"data_path"`
	Status     string       `json:"status"`
	ConfigJSON string       `json:"config"`
	StartedAt  string       `json:"started_at"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Episodes   int          `json:"episodes"`
	FirstLoss  float64      `json:"first_loss"`
	FinalLoss  float64      `json:"final_loss"`
	Passes     []passDetail `json:"passes"`
}

type passDetail struct {
	Pass          int `json:"pass"`
	SelectedCount int `json:"selected_count"`
	PositiveCount int `json:"positive_count"`
}

func runDetailMode(store *runlog.Store, runID string, jsonOut bool) error {
	r, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	eps, err := store.ListEpisodes(runID)
	if err != nil {
		return err
	}
	passes, err := store.ListPasses(runID)
	if err != nil {
		return err
	}

	out := detailOutput{
		RunID:      r.RunID,
		DataPath:   r.DataPath,
		Status:     r.Status,
		ConfigJSON: r.ConfigJSON,
		StartedAt:  r.StartedAt.Format("2006-01-02T15:04:05Z"),
		Episodes:   len(eps),
	}
	if !r.FinishedAt.IsZero() {
		out.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
	}
	if len(eps) > 0 {
		out.FirstLoss = eps[0].PolicyLoss
		out.FinalLoss = eps[len(eps)-1].PolicyLoss
	}
	for _, p := range passes {
		out.Passes = append(out.Passes, passDetail{
			Pass:          p.Pass,
			SelectedCount: p.SelectedCount,
			PositiveCount: p.PositiveCount,
		})
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Run:       %s\n", out.RunID)
	fmt.Printf("Data:      %s\n", out.DataPath)
	fmt.Printf("Status:    %s\n", out.Status)
	fmt.Printf("Config:    %s\n", out.ConfigJSON)
	fmt.Printf("Started:   %s\n", out.StartedAt)
	if out.FinishedAt != "" {
		fmt.Printf("Finished:  %s\n", out.FinishedAt)
	}
	fmt.Printf("Episodes:  %d", out.Episodes)
	if out.Episodes > 0 {
		fmt.Printf("  (loss %.4f -> %.4f)", out.FirstLoss, out.FinalLoss)
	}
	fmt.Println()

	if len(out.Passes) > 0 {
		fmt.Printf("\nRemoval passes:\n")
		for _, p := range out.Passes {
			fmt.Printf("  %3d  selected %4d  positive %4d\n", p.Pass, p.SelectedCount, p.PositiveCount)
		}
	}
	return nil
}

// #endregion detail-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
