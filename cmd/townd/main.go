package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tinytown.ai/internal/eventlog"
	"tinytown.ai/internal/llm"
	"tinytown.ai/internal/persistence/indexdb"
	persistlog "tinytown.ai/internal/persistence/log"
	"tinytown.ai/internal/registry"
	"tinytown.ai/internal/sim/actions"
	"tinytown.ai/internal/sim/character"
	"tinytown.ai/internal/sim/clock"
	"tinytown.ai/internal/sim/engine"
	"tinytown.ai/internal/sim/towndata"
	"tinytown.ai/internal/sim/townmap"
	"tinytown.ai/internal/sim/tuning"
	"tinytown.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		charsPath  = flag.String("characters", "", "path to characters.json (default: <configs>/characters.json)")
		locsPath   = flag.String("locations", "", "path to locations.json (default: <configs>/locations.json)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[townd] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
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
	if len(defs) == 0 {
		logger.Fatalf("no valid characters in %s", cp)
	}

	// One shared decision client, configured from the environment. Residents
	// with their own llm_config get a dedicated client, falling back to the
	// shared one if theirs is unreachable.
	shared, err := llm.NewClient(llm.FromEnv())
	if err != nil {
		logger.Fatalf("llm client: %v", err)
	}
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 15*time.Second)
	if err := shared.CheckConnection(pingCtx); err != nil {
		cancelPing()
		logger.Fatalf("llm: %v", err)
	}
	cancelPing()

	reg := registry.New()
	for _, a := range actions.Vocabulary() {
		if err := reg.RegisterAction(a.ID, a.Localized, a.English); err != nil {
			logger.Printf("register action %s: %v", a.ID, err)
		}
	}
	for _, def := range locFile.StaticLocations {
		en := def.EnglishName
		if en == "" {
			en = def.Name
		}
		if err := reg.RegisterLocation(registry.LocationIDFor(en), def.Name, en); err != nil {
			logger.Printf("register location %s: %v", def.Name, err)
		}
	}

	gameClock := clock.NewAt(tune.Start.Year, time.Month(tune.Start.Month), tune.Start.Day, tune.Start.Hour)

	chars := make([]*character.Character, 0, len(defs))
	for _, def := range defs {
		en := def.EnglishName
		if en == "" {
			en = def.Name
		}
		id := registry.CharacterIDFor(en)
		if err := reg.RegisterCharacter(id, def.Name, en); err != nil {
			logger.Printf("register character %s: %v", def.Name, err)
		}

		c := character.New(character.Profile{
			Name:          def.Name,
			EnglishName:   en,
			Age:           def.Age,
			Occupation:    def.Occupation,
			Personality:   def.Personality,
			Features:      def.Features,
			Quote:         def.Quote,
			Relationships: def.Relationships,
			Residence:     def.Residence,
			HomeLocation:  def.HomeLocation,
			Icon:          def.Icon,
			Mission:       def.Mission,
			LLM:           def.LLMConfig,
		}, id)

		if def.LLMConfig != nil {
			cl, err := llm.NewClient(*def.LLMConfig)
			if err == nil {
				ctx2, cancel2 := context.WithTimeout(context.Background(), 15*time.Second)
				err = cl.CheckConnection(ctx2)
				cancel2()
			}
			if err != nil {
				logger.Printf("custom llm for %s: %v; falling back to default", def.Name, err)
			} else {
				c.Client = cl
				logger.Printf("custom llm for %s ready", def.Name)
			}
		}

		if m := missionText(def.Mission, gameClock.Now(), tune.DurationDays); m != "" {
			c.AddMemory(m)
			logger.Printf("mission for %s: %s", def.Name, m)
		}

		chars = append(chars, c)
		logger.Printf("loaded character: %s (%s)", def.Name, id)
	}

	towndata.PlaceHomes(tmap, chars, locFile)

	// Homes discovered during placement get canonical ids too.
	for _, name := range tmap.Names() {
		if reg.Locations.IDFromName(name) == "" {
			if err := reg.RegisterLocation(registry.LocationIDFor(name), name, name); err != nil {
				logger.Printf("register home %s: %v", name, err)
			}
		}
	}
	for _, c := range chars {
		c.CurrentLocationID = reg.Locations.IDFromName(c.CurrentLocation)
	}

	startStamp := gameClock.Now().Format("20060102_150405")
	runID := uuid.NewString()
	runDir := filepath.Join(*dataDir, "runs", startStamp)
	_ = os.MkdirAll(runDir, 0o755)

	evLogger := eventlog.NewLogger(filepath.Join(*dataDir, "logs"), startStamp)
	mirror := persistlog.NewEventMirror(runDir)
	defer mirror.Close()

	sinks := multiSink{evLogger, mirror}
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.Open(filepath.Join(*dataDir, "index.db"), runID)
		if err != nil {
			logger.Fatalf("open index backend: %v", err)
		}
		defer idx.Close()
		if err := idx.RecordRun(startStamp, tune); err != nil {
			logger.Printf("index backend: record run: %v", err)
		}
		sinks = append(sinks, idx)
	}

	wsSrv := ws.NewServer(logger)

	eng := engine.New(engine.Options{
		Tuning:    tune,
		Clock:     gameClock,
		Map:       tmap,
		Registry:  reg,
		Chars:     chars,
		Service:   shared,
		Sink:      sinks,
		Publisher: wsSrv,
		Logger:    logger,
		Rand:      rand.New(rand.NewSource(tune.Seed)),
	})

	ctx, cancel := signalContext()
	defer cancel()

	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
		cancel()
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP tinytown_sim_ticks Ticks advanced since start.\n")
		fmt.Fprintf(rw, "# TYPE tinytown_sim_ticks counter\n")
		fmt.Fprintf(rw, "tinytown_sim_ticks{run=%q} %d\n", startStamp, eng.TickCount())

		fmt.Fprintf(rw, "# HELP tinytown_residents Number of residents in the town.\n")
		fmt.Fprintf(rw, "# TYPE tinytown_residents gauge\n")
		fmt.Fprintf(rw, "tinytown_residents{run=%q} %d\n", startStamp, len(chars))

		fmt.Fprintf(rw, "# HELP tinytown_requests_inflight Outstanding decision requests.\n")
		fmt.Fprintf(rw, "# TYPE tinytown_requests_inflight gauge\n")
		fmt.Fprintf(rw, "tinytown_requests_inflight{run=%q} %d\n", startStamp, eng.Inflight())

		fmt.Fprintf(rw, "# HELP tinytown_ws_clients Connected observer clients.\n")
		fmt.Fprintf(rw, "# TYPE tinytown_ws_clients gauge\n")
		fmt.Fprintf(rw, "tinytown_ws_clients{run=%q} %d\n", startStamp, wsSrv.ClientCount())
	})
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (run %s)", *addr, startStamp)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-engineDone
	if path, err := evLogger.Save(); err != nil {
		logger.Printf("save simulation log: %v", err)
	} else {
		logger.Printf("simulation log saved: %s", path)
	}
}

// multiSink fans one event out to every backend; the first failure wins.
type multiSink []eventlog.Sink

func (m multiSink) Append(e eventlog.Event) error {
	var first error
	for _, s := range m {
		if err := s.Append(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// missionText renders a profile mission, substituting the run length and the
// target end date ("2025年01月04日 周六").
func missionText(mission string, start time.Time, days int) string {
	if strings.TrimSpace(mission) == "" {
		return ""
	}
	target := start.AddDate(0, 0, days)
	weekdays := []string{"周日", "周一", "周二", "周三", "周四", "周五", "周六"}
	dateStr := target.Format("2006年01月02日") + " " + weekdays[target.Weekday()]
	out := strings.ReplaceAll(mission, "{days}", strconv.Itoa(days))
	out = strings.ReplaceAll(out, "{target_date}", dateStr)
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
