package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"lsmdb/internal/engine"
	"lsmdb/pkg/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "lsmdb:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("lsmdb", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (defaults used if omitted)")
	dataDir := fs.String("dir", "./data", "data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) < 1 {
		return fmt.Errorf("usage: lsmdb [-dir path] [-config file.yaml] <put|get|delete> ...")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.DB.DataDir = *dataDir
	initLogger(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	e, err := engine.Open(cfg.DB.DataDir, cfg)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if cerr := e.Close(); cerr != nil {
			slog.Error("failed to close engine", "error", cerr)
		}
	}()

	switch rest[0] {
	case "put":
		if len(rest) != 3 {
			return fmt.Errorf("usage: lsmdb put <key> <value>")
		}
		return e.Put([]byte(rest[1]), []byte(rest[2]))
	case "get":
		if len(rest) != 2 {
			return fmt.Errorf("usage: lsmdb get <key>")
		}
		value, ok, err := e.Get([]byte(rest[1]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("(not found)")
			return nil
		}
		fmt.Println(string(value))
		return nil
	case "delete":
		if len(rest) != 2 {
			return fmt.Errorf("usage: lsmdb delete <key>")
		}
		return e.Delete([]byte(rest[1]))
	default:
		return fmt.Errorf("unknown command %q: want put, get, or delete", rest[0])
	}
}

// loadConfig reads path as YAML and returns config.Default() unmodified
// if path is empty or does not exist.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// initLogger configures the global slog logger from cfg.Logger.
func initLogger(cfg config.Config) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Logger.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
