package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"evidencia/internal/app"
	"evidencia/internal/config"
	"evidencia/internal/domain"
	cryptoinfra "evidencia/internal/infra/crypto"
	"evidencia/internal/infra/logging"
	"evidencia/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Exit codes beyond 0 (success) and 1 (usage or runtime failure).
const (
	exitMismatch = 2
	exitNotFound = 3
)

type cli struct {
	name   string
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdout, stderr io.Writer) int {
	c := &cli{name: "evidencia", stdout: stdout, stderr: stderr}
	if len(args) > 0 && args[0] != "" {
		c.name = filepath.Base(args[0])
	}
	if len(args) < 2 {
		c.usage()
		return 1
	}

	switch args[1] {
	case "fingerprint":
		return c.runFingerprint(args[2:])
	case "certify":
		return c.runCertify(args[2:])
	case "verify":
		return c.runVerify(args[2:])
	case "history":
		return c.runHistory(args[2:])
	case "migrate":
		return c.runMigrate(args[2:])
	case "help", "-h", "--help":
		c.usage()
		return 0
	}

	c.usage()
	return 1
}

func (c *cli) usage() {
	fmt.Fprintf(c.stderr, "usage:\n")
	fmt.Fprintf(c.stderr, "  %s fingerprint <file>\n", c.name)
	fmt.Fprintf(c.stderr, "  %s certify --file <path> [--filename <name>] [--mimetype <type>] [--origin <url>] [--config <file>]\n", c.name)
	fmt.Fprintf(c.stderr, "  %s verify <id> [--file <path>] [--origin <url>] [--config <file>]\n", c.name)
	fmt.Fprintf(c.stderr, "  %s history [--config <file>]\n", c.name)
	fmt.Fprintf(c.stderr, "  %s migrate [--config <file>]\n", c.name)
}

func (c *cli) flags(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configPath := fs.StringP("config", "c", "", "config file (dotenv, yaml, toml or json)")
	return fs, configPath
}

func (c *cli) runFingerprint(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "fingerprint requires <file>")
		return 1
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(c.stderr, "open file: %v\n", err)
		return 1
	}
	defer f.Close()
	hash, err := cryptoinfra.FingerprintReader(f)
	if err != nil {
		fmt.Fprintf(c.stderr, "fingerprint: %v\n", err)
		return 1
	}
	fmt.Fprintln(c.stdout, hash)
	return 0
}

func (c *cli) runCertify(args []string) int {
	fs, configPath := c.flags("certify")
	var filePath, filename, mimetype, origin string
	fs.StringVarP(&filePath, "file", "f", "", "media file to certify")
	fs.StringVar(&filename, "filename", "", "client filename (default base name of --file)")
	fs.StringVar(&mimetype, "mimetype", "", "declared mimetype (sniffed when empty)")
	fs.StringVar(&origin, "origin", "", "origin used for the verification link when PUBLIC_BASE_URL is unset")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if filePath == "" {
		fmt.Fprintln(c.stderr, "certify requires --file")
		return 1
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		fmt.Fprintf(c.stderr, "read file: %v\n", err)
		return 1
	}
	if filename == "" {
		filename = filepath.Base(filePath)
	}

	return c.withApp(*configPath, func(ctx context.Context, a *app.App) int {
		res, err := a.Certifier.Certify(ctx, usecase.CertifyRequest{
			Content:  content,
			Filename: filename,
			Mimetype: mimetype,
			Origin:   origin,
		})
		if err != nil {
			fmt.Fprintf(c.stderr, "certify: %v\n", err)
			return 1
		}
		return c.printJSON(proofOutput(res.Record, res.Note))
	})
}

func (c *cli) runVerify(args []string) int {
	fs, configPath := c.flags("verify")
	var filePath, origin string
	fs.StringVarP(&filePath, "file", "f", "", "compare this file against the certified hash")
	fs.StringVar(&origin, "origin", "", "origin used for derived links when PUBLIC_BASE_URL is unset")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(c.stderr, "verify requires <id>")
		return 1
	}
	id := fs.Arg(0)

	var content []byte
	if filePath != "" {
		var err error
		content, err = os.ReadFile(filePath)
		if err != nil {
			fmt.Fprintf(c.stderr, "read file: %v\n", err)
			return 1
		}
	}

	return c.withApp(*configPath, func(ctx context.Context, a *app.App) int {
		resolved, err := a.Verifier.Verify(ctx, id, origin)
		if err != nil {
			fmt.Fprintf(c.stderr, "verify: %v\n", err)
			if errors.Is(err, domain.ErrNotFound) {
				return exitNotFound
			}
			return 1
		}
		out := proofOutput(resolved.Record, resolved.Record.AnchorNote)
		out.QR = resolved.VerificationCode
		out.MediaURL = resolved.MediaURL
		out.ExplorerURL = resolved.ExplorerURL
		if filePath != "" {
			matches := usecase.MatchesContent(resolved.Record, content)
			out.Matches = &matches
		}
		if code := c.printJSON(out); code != 0 {
			return code
		}
		if out.Matches != nil && !*out.Matches {
			return exitMismatch
		}
		return 0
	})
}

func (c *cli) runHistory(args []string) int {
	fs, configPath := c.flags("history")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return c.withApp(*configPath, func(ctx context.Context, a *app.App) int {
		records, err := a.History.List(ctx)
		if err != nil {
			fmt.Fprintf(c.stderr, "history: %v\n", err)
			return 1
		}
		out := make([]proofJSON, 0, len(records))
		for _, record := range records {
			out = append(out, proofOutput(record, record.AnchorNote))
		}
		return c.printJSON(out)
	})
}

// runMigrate applies pending migrations. Build already migrates, so this
// only reports the resulting schema version.
func (c *cli) runMigrate(args []string) int {
	fs, configPath := c.flags("migrate")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return c.withApp(*configPath, func(ctx context.Context, a *app.App) int {
		version, err := a.Store.SchemaVersion(ctx)
		if err != nil {
			fmt.Fprintf(c.stderr, "schema version: %v\n", err)
			return 1
		}
		fmt.Fprintf(c.stdout, "schema version %d (%s)\n", version, a.Store.Dialect)
		return 0
	})
}

func (c *cli) withApp(configPath string, fn func(ctx context.Context, a *app.App) int) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(c.stderr, "load config: %v\n", err)
		return 1
	}
	logger := logging.NewWithWriter(c.stderr, cfg.LogLevel, "console")
	if cfg.LogLevel == "" || cfg.LogLevel == "info" {
		logger = logger.Level(zerolog.WarnLevel)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(c.stderr, "init: %v\n", err)
		return 1
	}
	defer a.Close()
	return fn(ctx, a)
}

type proofJSON struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	Timestamp   int64  `json:"timestamp"`
	Filename    string `json:"filename"`
	Mimetype    string `json:"mimetype"`
	TxHash      string `json:"txHash"`
	URI         string `json:"uri"`
	QR          string `json:"qr,omitempty"`
	ImageURL    string `json:"imageUrl"`
	Note        string `json:"note,omitempty"`
	MediaURL    string `json:"mediaUrl,omitempty"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	Matches     *bool  `json:"matches,omitempty"`
}

func proofOutput(record domain.ProofRecord, note string) proofJSON {
	return proofJSON{
		ID:        record.ID,
		Hash:      record.ContentHash,
		Timestamp: record.Timestamp,
		Filename:  record.Filename,
		Mimetype:  record.Mimetype,
		TxHash:    record.AnchorTxRef,
		URI:       record.VerificationURI,
		ImageURL:  record.MediaReference,
		Note:      note,
	}
}

func (c *cli) printJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(c.stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}
