// Command replay reconstructs town state from a recorded simulation log and
// prints it at a chosen moment, or plays the whole run to stdout.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/replay"
	"tinytown.ai/internal/sim/towndata"
	"tinytown.ai/internal/sim/townmap"
	"tinytown.ai/internal/sim/tuning"
)

func main() {
	var (
		logPath    = flag.String("log", "", "path to a simulation_log_*.json file (required)")
		configDir  = flag.String("configs", "./configs", "config directory")
		charsPath  = flag.String("characters", "", "path to characters.json (default: <configs>/characters.json)")
		locsPath   = flag.String("locations", "", "path to locations.json (default: <configs>/locations.json)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		at         = flag.String("at", "", `seek to a simulated time ("2025-01-01 08:30")`)
		progress   = flag.Float64("progress", -1, "seek to a fraction of the run (0..1)")
		follow     = flag.Bool("follow", false, "play the run, printing state each step")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	if strings.TrimSpace(*logPath) == "" {
		logger.Fatalf("-log is required")
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	cp := strings.TrimSpace(*charsPath)
	if cp == "" {
		cp = filepath.Join(*configDir, "characters.json")
	}
	lp := strings.TrimSpace(*locsPath)
	if lp == "" {
		lp = filepath.Join(*configDir, "locations.json")
	}

	locFile, err := towndata.LoadLocations(lp)
	var tmap *townmap.Map
	if err != nil {
		logger.Printf("load locations: %v; using the default town square", err)
		tmap = townmap.NewDefault("小镇广场")
	} else {
		tmap = towndata.BuildMap(locFile)
	}

	defs, err := towndata.LoadCharacters(cp, logger)
	if err != nil {
		logger.Fatalf("load characters: %v", err)
	}
	chars := make([]*character.Character, 0, len(defs))
	for _, def := range defs {
		chars = append(chars, character.New(character.Profile{
			Name:         def.Name,
			EnglishName:  def.EnglishName,
			Occupation:   def.Occupation,
			Residence:    def.Residence,
			HomeLocation: def.HomeLocation,
			Icon:         def.Icon,
		}, ""))
	}
	towndata.PlaceHomes(tmap, chars, locFile)

	r, err := replay.Load(*logPath, tmap, chars, tune.MinutesPerTick)
	if err != nil {
		logger.Fatalf("load replay: %v", err)
	}
	if r.Empty() {
		logger.Fatalf("no events in %s", *logPath)
	}
	logger.Printf("loaded %s: %s .. %s", filepath.Base(*logPath),
		r.Start().Format("2006-01-02 15:04"), r.End().Format("2006-01-02 15:04"))

	switch {
	case *at != "":
		target, err := eventlog.ParseTimestamp(*at)
		if err != nil {
			logger.Fatalf("bad -at value: %v", err)
		}
		span := r.End().Sub(r.Start())
		p := 0.0
		if span > 0 {
			p = float64(target.Sub(r.Start())) / float64(span)
		}
		r.SetTime(p)
		printState(r)
	case *progress >= 0:
		r.SetTime(*progress)
		printState(r)
	case *follow:
		r.Paused = false
		for !r.Paused {
			r.Update()
			printState(r)
			time.Sleep(50 * time.Millisecond)
		}
	default:
		r.SetTime(0)
		printState(r)
	}
}

func printState(r *replay.Replay) {
	fmt.Printf("== %s ==\n", r.Now().Format("2006-01-02 15:04"))
	for _, c := range r.Characters {
		fmt.Printf("  %s %s @ %s [%d,%d]: %s\n",
			c.Emoji, c.Profile.Name, c.CurrentLocation, c.Position[0], c.Position[1], c.Status)
	}
	if sq := r.Map.Square(); sq != nil && len(sq.Notices) > 0 {
		fmt.Println("  -- notices --")
		for _, n := range sq.Notices {
			fmt.Printf("  [%s] %s: %s\n", n.CreatedAt, n.Author, n.Content)
		}
	}
}
