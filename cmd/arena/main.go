// Package main provides the arena binary: it loads content, assembles an
// encounter from actor templates, and drives it through the agentic turn
// loop with an interactive referee on stdin.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"

	"github.com/deloreyj/dungeons-and-durable-objects/internal/broadcast"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/config"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/actor"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/dice"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/grid"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/loop"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/game/planner"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/gameserver"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/observability"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/scripting"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/server"
	"github.com/deloreyj/dungeons-and-durable-objects/internal/storage/redisrepo"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	mapName := flag.String("map", "arena", "battle map name to fight on")
	party := flag.String("party", "fighter", "comma-separated template IDs spawned on the Party team")
	enemies := flag.String("enemies", "goblin,goblin", "comma-separated template IDs spawned on the Enemies team")
	actorsDir := flag.String("actors-dir", "", "override content.actors_dir")
	scriptsDir := flag.String("scripts", "", "override content.scripts_dir")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *actorsDir != "" {
		cfg.Content.ActorsDir = *actorsDir
	}
	if *scriptsDir != "" {
		cfg.Content.ScriptsDir = *scriptsDir
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	cryptoSrc := dice.NewCryptoSource()
	diceRoller := dice.NewLoggedRoller(cryptoSrc, logger)

	// Load content
	contentStart := time.Now()
	maps, err := loadMaps(cfg.Content.MapsDir)
	if err != nil {
		logger.Fatal("loading maps", zap.Error(err))
	}
	templates, err := actor.LoadTemplates(cfg.Content.ActorsDir)
	if err != nil {
		logger.Fatal("loading actor templates", zap.Error(err))
	}
	logger.Info("content loaded",
		zap.Int("maps", len(maps)),
		zap.Int("templates", len(templates)),
		zap.Duration("elapsed", time.Since(contentStart)),
	)

	// Initialise scripting engine
	var scriptMgr *scripting.Manager
	if cfg.Content.ScriptsDir != "" {
		if info, statErr := os.Stat(cfg.Content.ScriptsDir); statErr == nil && info.IsDir() {
			scriptMgr = scripting.NewManager(diceRoller, logger)
			defer scriptMgr.Close()
			if err := scriptMgr.LoadDefault(cfg.Content.ScriptsDir, scripting.DefaultInstructionLimit); err != nil {
				logger.Fatal("loading scripts", zap.String("dir", cfg.Content.ScriptsDir), zap.Error(err))
			}
			logger.Info("scripting engine initialized", zap.String("dir", cfg.Content.ScriptsDir))
		}
	}

	// Select the planner
	var turnPlanner planner.Planner
	var narrator planner.Narrator
	switch cfg.Planner.Provider {
	case "anthropic":
		// The SDK reads ANTHROPIC_API_KEY from the environment.
		client := anthropic.NewClient()
		turnPlanner = planner.NewAnthropicPlanner(client, cfg.Planner.Model, int64(cfg.Planner.MaxTokens), logger)
		if cfg.Planner.Narrate {
			narrator = planner.NewAnthropicNarrator(client, cfg.Planner.Model, 0)
		}
		logger.Info("using anthropic planner", zap.String("model", cfg.Planner.Model))
	case "scripted":
		if scriptMgr == nil {
			logger.Fatal("scripted planner requires content.scripts_dir")
		}
		turnPlanner = planner.NewScriptedPlanner(scriptMgr, "", logger)
		logger.Info("using scripted planner")
	case "none":
		logger.Info("no planner configured, turns must be driven manually")
	}

	var approver loop.Approver = loop.AutoApprover{}
	if !cfg.Game.AutoApprove {
		approver = &consoleApprover{in: bufio.NewScanner(os.Stdin)}
	}

	hub := broadcast.NewHub(logger)

	var controller *loop.Controller
	if turnPlanner != nil {
		controller = loop.NewController(loop.Config{
			Planner:         turnPlanner,
			Narrator:        narrator,
			Approver:        approver,
			Hub:             hub,
			Logger:          logger,
			PlanTimeout:     cfg.Planner.Timeout,
			MaxPlansPerTurn: cfg.Game.MaxPlansPerTurn,
			LogTailLen:      cfg.Game.LogTailLen,
		})
	}

	// Optional snapshot store
	var store gameserver.Store
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		defer client.Close()
		store = gameserver.RedisStore{
			Actors:     redisrepo.NewActorRepository(client, logger),
			Encounters: redisrepo.NewEncounterRepository(client, logger),
		}
		logger.Info("snapshot store connected", zap.String("addr", cfg.Redis.Addr))
	}

	svc, err := gameserver.NewService(gameserver.Config{
		Maps:       maps,
		Templates:  templates,
		Source:     cryptoSrc,
		Hub:        hub,
		Controller: controller,
		Store:      store,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("creating service", zap.Error(err))
	}

	enc, err := assembleEncounter(svc, *mapName, splitIDs(*party), splitIDs(*enemies))
	if err != nil {
		logger.Fatal("assembling encounter", zap.Error(err))
	}
	logger.Info("encounter assembled",
		zap.String("encounter", enc),
		zap.String("map", *mapName),
		zap.Duration("startup", time.Since(start)),
	)

	if controller == nil {
		logger.Info("planner disabled, exiting after assembly")
		return
	}

	// Print the live log to the console as the loop publishes it.
	sub := hub.Subscribe(broadcast.EncounterChannel(enc), 256)
	go func() {
		for data := range sub.Events() {
			fmt.Println(string(data))
		}
	}()

	lifecycle := server.NewLifecycle(logger)
	runCtx, cancelRun := context.WithCancel(ctx)
	lifecycle.Add("arena", &server.FuncService{
		StartFn: func() error {
			if err := svc.StartEncounter(enc); err != nil {
				return err
			}
			if err := svc.RunEncounter(runCtx, enc, cfg.Game.MaxRounds); err != nil {
				return err
			}
			if store != nil {
				if err := svc.Save(ctx, enc); err != nil {
					logger.Warn("saving encounter snapshot", zap.Error(err))
				}
			}
			return nil
		},
		StopFn: func() {
			cancelRun()
			hub.Unsubscribe(sub)
		},
	})

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("arena error", zap.Error(err))
	}
}

// consoleApprover prompts the referee on stdout and reads one line per
// proposal from stdin. EOF approves everything from then on.
type consoleApprover struct {
	in *bufio.Scanner
}

func (c *consoleApprover) Review(_ context.Context, p loop.Proposal) (string, error) {
	fmt.Printf("%s\napprove? [yes / guidance] > ", p.Summary)
	if !c.in.Scan() {
		return "yes", nil
	}
	answer := strings.TrimSpace(c.in.Text())
	if answer == "" {
		return "yes", nil
	}
	return answer, nil
}

func loadMaps(dir string) ([]*grid.Map, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading maps dir %q: %w", dir, err)
	}
	var maps []*grid.Map
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		m, err := grid.LoadMap(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		maps = append(maps, m)
	}
	if len(maps) == 0 {
		return nil, fmt.Errorf("no maps found in %q", dir)
	}
	return maps, nil
}

// assembleEncounter creates an encounter and spawns the party down the west
// edge and the enemies down the east edge.
func assembleEncounter(svc *gameserver.Service, mapName string, party, enemies []string) (string, error) {
	e, err := svc.CreateEncounter("arena skirmish", mapName)
	if err != nil {
		return "", err
	}
	width := e.Grid().Width()
	for i, id := range party {
		if _, err := svc.SpawnFromTemplate(e.ID(), id, actor.TeamParty, grid.Position{X: 0, Y: i * 2}); err != nil {
			return "", err
		}
	}
	for i, id := range enemies {
		if _, err := svc.SpawnFromTemplate(e.ID(), id, actor.TeamEnemies, grid.Position{X: width - 1, Y: i * 2}); err != nil {
			return "", err
		}
	}
	return e.ID(), nil
}

func splitIDs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
