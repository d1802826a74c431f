package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/dakling/katagollum/internal/board"
	"github.com/dakling/katagollum/internal/config"
	"github.com/dakling/katagollum/internal/game"
	"github.com/dakling/katagollum/internal/gamebuilder"
	"github.com/dakling/katagollum/internal/llm"
	"github.com/dakling/katagollum/internal/obslog"
	"github.com/dakling/katagollum/internal/tools"
)

var playOpts struct {
	persona   string
	boardSize int
	komi      float64
	color     string
	handicap  int
	model     string
	provider  string
	baseURL   string
	serverURL string
	katagoCmd string
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Play an interactive game in the terminal",
	Long: `Starts a terminal game against the bot. By default the KataGo engine runs
in-process; pass --server-url to attach to a running katagollum server
instead.`,
	RunE: runPlay,
}

func init() {
	f := playCmd.Flags()
	f.StringVarP(&playOpts.persona, "persona", "p", config.DefaultPersona,
		"Bot personality (sarcastic, arrogant, encouraging, chill, competitive)")
	f.IntVarP(&playOpts.boardSize, "board-size", "s", config.DefaultBoardSize, "Board size")
	f.Float64VarP(&playOpts.komi, "komi", "k", config.DefaultKomi, "Komi")
	f.StringVar(&playOpts.color, "color", "B", "Your color, B or W")
	f.IntVar(&playOpts.handicap, "handicap", 0, "Handicap stones for Black")
	f.StringVarP(&playOpts.model, "model", "m", config.DefaultLLMModel, "LLM model")
	f.StringVar(&playOpts.provider, "provider", config.DefaultLLMProvider, "LLM provider (ollama or openai)")
	f.StringVar(&playOpts.baseURL, "base-url", "", "LLM base URL")
	f.StringVar(&playOpts.serverURL, "server-url", "",
		"Attach to a running katagollum server instead of starting the engine in-process")
	f.StringVar(&playOpts.katagoCmd, "katago-command", "", "KataGo GTP command")
	rootCmd.AddCommand(playCmd)
}

func runPlay(cmd *cobra.Command, args []string) error {
	// Keep engine and model logs out of the interactive UI unless asked for.
	if os.Getenv("LOG_TO_CONSOLE") == "" {
		os.Setenv("LOG_TO_CONSOLE", "false")
	}
	if err := obslog.InitFromEnv(); err != nil {
		return err
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyPlayFlags(cmd, cfg)

	userColor, ok := board.ParseColor(playOpts.color)
	if !ok {
		return fmt.Errorf("invalid color %q, must be B or W", playOpts.color)
	}

	core, err := gamebuilder.NewCore(cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	if !core.Catalog.Has(cfg.Game.Persona) {
		return fmt.Errorf("unknown persona %q (available: %s)",
			cfg.Game.Persona, strings.Join(core.Catalog.Names(), ", "))
	}

	var source game.ToolSource
	if playOpts.serverURL != "" {
		source = game.NewRemoteSource(playOpts.serverURL, logger)
	} else {
		source = game.NewRegistrySource(core.Registry)
	}

	gc := llm.GameContext{
		BoardSize: cfg.Game.BoardSize,
		Komi:      cfg.Game.Komi,
		UserColor: string(userColor),
	}
	orch := game.New(core.Model, source, core.Catalog, cfg.Game.Persona, gc, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nGame interrupted. Thanks for playing!")
		_ = core.Close()
		os.Exit(0)
	}()

	printBanner(cfg.Game.BoardSize, cfg.Game.Komi, userColor)

	ctx := cmd.Context()
	if err := startEngine(ctx, source, cfg); err != nil {
		return err
	}

	pterm.Println("Fetching tool definitions from server...")
	if defs, err := source.Definitions(ctx); err != nil || len(defs) == 0 {
		pterm.Warning.Println("Could not fetch tool definitions; the bot will not be able to play moves.")
	}

	if err := botOpening(ctx, orch, userColor, cfg.Game.Handicap); err != nil {
		pterm.Warning.Printf("Opening move failed: %v\n", err)
	}

	return gameLoop(ctx, orch, cfg.Game.BoardSize)
}

// applyPlayFlags lets explicit flags win over the config file without
// stomping file values with flag defaults.
func applyPlayFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	f := cmd.Flags()
	if f.Changed("persona") {
		cfg.Game.Persona = strings.ToLower(playOpts.persona)
	}
	if f.Changed("board-size") {
		cfg.Game.BoardSize = playOpts.boardSize
	}
	if f.Changed("komi") {
		cfg.Game.Komi = playOpts.komi
	}
	if f.Changed("handicap") {
		cfg.Game.Handicap = playOpts.handicap
	}
	if f.Changed("model") {
		cfg.LLM.Model = playOpts.model
	}
	if f.Changed("provider") {
		cfg.LLM.Provider = strings.ToLower(playOpts.provider)
	}
	if f.Changed("base-url") {
		cfg.LLM.BaseURL = playOpts.baseURL
	}
	if f.Changed("katago-command") {
		cfg.Katago.Command = playOpts.katagoCmd
	}
}

func printBanner(size int, komi float64, userColor board.Color) {
	line := strings.Repeat("=", 50)
	pterm.Println()
	pterm.Println(line)
	pterm.Println(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold).Sprint("   TRASH-TALK GO BOT"))
	pterm.Println(line)
	pterm.Printf("Board size: %dx%d\n", size, size)
	pterm.Printf("Komi: %g\n", komi)
	pterm.Printf("You play: %s\n", userColor)
	pterm.Printf("Bot plays: %s\n", userColor.Opponent())
	pterm.Println(line)
	pterm.Println()
}

func startEngine(ctx context.Context, source game.ToolSource, cfg *config.AppConfig) error {
	spinner, _ := pterm.DefaultSpinner.Start("Initializing KataGo (this takes ~15 seconds on first run)...")
	args := map[string]any{
		"board_size": cfg.Game.BoardSize,
		"komi":       cfg.Game.Komi,
	}
	if cfg.Game.Handicap > 0 {
		args["handicap"] = cfg.Game.Handicap
	}
	if cmd := strings.TrimSpace(cfg.Katago.Command); cmd != "" {
		args["katago_command"] = cmd
	}
	if _, err := source.Call(ctx, tools.ToolInitializeGame, args); err != nil {
		if spinner != nil {
			spinner.Fail(err.Error())
		}
		return fmt.Errorf("initialize engine: %w", err)
	}
	if spinner != nil {
		spinner.Success("KataGo ready")
	}
	return nil
}

// botOpening plays the bot's first move for the game setups where its side
// opens: an even game with the user on White, or a handicap game with the
// user on Black.
func botOpening(ctx context.Context, orch *game.Orchestrator, userColor board.Color, handicap int) error {
	botOpens := (handicap == 0 && userColor == board.White) ||
		(handicap > 0 && userColor == board.Black)
	if !botOpens {
		return nil
	}
	first, err := orch.OpeningMove(ctx, string(userColor))
	if err != nil {
		return err
	}
	if first.Message != "" {
		fmt.Printf("\nBot: %s\n", first.Message)
	}
	return nil
}

func gameLoop(ctx context.Context, orch *game.Orchestrator, size int) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\nYour move: ")
		if !scanner.Scan() {
			fmt.Println()
			pterm.Println("Thanks for playing!")
			return scanner.Err()
		}

		kind, coord := board.ParseUserMove(scanner.Text())
		var move string
		switch kind {
		case board.InputQuit:
			pterm.Println("Thanks for playing!")
			return nil
		case board.InputInvalid:
			pterm.Println("Invalid move. Try again.")
			continue
		case board.InputPass:
			move = "pass"
		case board.InputResign:
			move = "resign"
		case board.InputMove:
			move = board.FormatDisplay(coord, size)
			if _, _, ok := board.GridPosition(move, size); !ok {
				pterm.Println("Invalid move. Try again.")
				continue
			}
		}

		result, err := orch.ProcessTurn(ctx, move)
		if err != nil {
			pterm.Warning.Printf("Turn failed: %v\n", err)
			continue
		}
		fmt.Printf("\nBot: %s\n", result.Reply)
	}
}
