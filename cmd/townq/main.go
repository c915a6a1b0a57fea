// Command townq inspects the sqlite event index offline: past runs, their
// event streams, and per-resident activity.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "runs":
			runsCmd(os.Args[2:])
			return
		case "events":
			eventsCmd(os.Args[2:])
			return
		case "character":
			characterCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: townq {runs|events|character} [flags]")
	os.Exit(2)
}

func openIndex(dataDir, dbPath string) *sql.DB {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index.db")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return db
}

// latestRun returns the most recently started run id.
func latestRun(db *sql.DB) string {
	var id string
	row := db.QueryRow(`SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1`)
	if err := row.Scan(&id); err != nil {
		fmt.Fprintln(os.Stderr, "no runs found")
		os.Exit(2)
	}
	return id
}

func runsCmd(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	db := openIndex(*dataDir, *dbPath)
	defer db.Close()

	rows, err := db.Query(`SELECT r.run_id,r.session,r.started_at,COUNT(e.seq) FROM runs r LEFT JOIN events e ON e.run_id=r.run_id GROUP BY r.run_id ORDER BY r.started_at DESC LIMIT ?`, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	for rows.Next() {
		var r struct {
			RunID     string `json:"run_id"`
			Session   string `json:"session"`
			StartedAt string `json:"started_at"`
			Events    int    `json:"events"`
		}
		if err := rows.Scan(&r.RunID, &r.Session, &r.StartedAt, &r.Events); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		printJSON(r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func eventsCmd(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (optional; defaults to latest)")
	typ := fs.String("type", "", "event type filter (plan|dialogue)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	db := openIndex(*dataDir, *dbPath)
	defer db.Close()

	run := strings.TrimSpace(*runID)
	if run == "" {
		run = latestRun(db)
	}

	q := `SELECT seq,sim_time,type,character,location,details_json FROM events WHERE run_id=?`
	qargs := []any{run}
	if strings.TrimSpace(*typ) != "" {
		q += ` AND type=?`
		qargs = append(qargs, strings.TrimSpace(*typ))
	}
	q += ` ORDER BY seq LIMIT ?`
	qargs = append(qargs, *limit)

	rows, err := db.Query(q, qargs...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	printEventRows(rows)
}

func characterCmd(args []string) {
	fs := flag.NewFlagSet("character", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (optional; defaults to latest)")
	limit := fs.Int("limit", 50, "result limit")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "missing character name")
		os.Exit(2)
	}
	name := fs.Arg(0)

	db := openIndex(*dataDir, *dbPath)
	defer db.Close()

	run := strings.TrimSpace(*runID)
	if run == "" {
		run = latestRun(db)
	}

	rows, err := db.Query(`SELECT seq,sim_time,type,character,location,details_json FROM events WHERE run_id=? AND character=? ORDER BY seq LIMIT ?`, run, name, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	defer rows.Close()
	printEventRows(rows)
}

func printEventRows(rows *sql.Rows) {
	for rows.Next() {
		var r struct {
			Seq       int64           `json:"seq"`
			SimTime   string          `json:"sim_time"`
			Type      string          `json:"type"`
			Character string          `json:"character"`
			Location  string          `json:"location"`
			Details   json.RawMessage `json:"details"`
		}
		var details string
		if err := rows.Scan(&r.Seq, &r.SimTime, &r.Type, &r.Character, &r.Location, &details); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		r.Details = json.RawMessage(details)
		printJSON(r)
	}
	if err := rows.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "rows:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "marshal:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
