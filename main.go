package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Jeffail/gabs"
	"github.com/aws/aws-sdk-go-v2/aws"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"

	"github.com/stevemurr/jsondb/commerce"
	"github.com/stevemurr/jsondb/export"
	"github.com/stevemurr/jsondb/store"
)

const usage = `usage: jsondb <command> [args]

  product create <json>        add a product, the id is assigned
  product get <id>
  product update <id> <json>   merge fields into a product
  product delete <id>
  product list
  search <text>                match title, description and brand
  checkout <product-id> <quantity>
  order get <id>
  order cancel <id>
  order list
  export sqlite [-out path]
  export s3 -bucket name [-prefix p] [-path-style]

environment:
  DATA_DIR        root directory (default ./data)
  STORE_BACKEND   json or memory (default json)
  LOG_LEVEL       zerolog level (default info)
  EXPORT_SQLITE   default file for export sqlite (default ./export.db)
  AWS_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN, S3_ENDPOINT
`

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// parseObject reads a JSON object argument.
func parseObject(arg string) (store.Record, error) {
	c, err := gabs.ParseJSON([]byte(arg))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON %q: %w", arg, err)
	}
	obj, ok := c.Data().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a JSON object, got %q", arg)
	}
	return store.Record(obj), nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

// cli dispatches one command against the service.
type cli struct {
	svc *commerce.Service
	log zerolog.Logger
}

func (c *cli) run(args []string) (commerce.Response, error) {
	if len(args) == 0 {
		return commerce.Response{}, errUsage
	}
	switch args[0] {
	case "product":
		return c.product(args[1:])
	case "order":
		return c.order(args[1:])
	case "search":
		if len(args) != 2 {
			return commerce.Response{}, errUsage
		}
		hits, err := c.svc.SearchProducts(args[1])
		return commerce.Respond(hits, err, commerce.StatusRead), nil
	case "checkout":
		if len(args) != 3 {
			return commerce.Response{}, errUsage
		}
		id, err := parseID(args[1])
		if err != nil {
			return commerce.Response{}, err
		}
		qty, err := strconv.Atoi(args[2])
		if err != nil {
			return commerce.Response{}, fmt.Errorf("invalid quantity %q", args[2])
		}
		order, err := c.svc.Checkout(id, qty)
		return commerce.Respond(order, err, commerce.StatusCreated), nil
	case "export":
		return c.export(args[1:])
	}
	return commerce.Response{}, errUsage
}

var errUsage = errors.New("unknown command")

func (c *cli) product(args []string) (commerce.Response, error) {
	if len(args) == 0 {
		return commerce.Response{}, errUsage
	}
	switch {
	case args[0] == "list" && len(args) == 1:
		products, err := c.svc.Products()
		return commerce.Respond(products, err, commerce.StatusRead), nil
	case args[0] == "create" && len(args) == 2:
		fields, err := parseObject(args[1])
		if err != nil {
			return commerce.Response{}, err
		}
		p, err := c.svc.CreateProduct(fields)
		return commerce.Respond(p, err, commerce.StatusCreated), nil
	case args[0] == "get" && len(args) == 2:
		id, err := parseID(args[1])
		if err != nil {
			return commerce.Response{}, err
		}
		p, err := c.svc.GetProduct(id)
		return commerce.Respond(p, err, commerce.StatusRead), nil
	case args[0] == "update" && len(args) == 3:
		id, err := parseID(args[1])
		if err != nil {
			return commerce.Response{}, err
		}
		patch, err := parseObject(args[2])
		if err != nil {
			return commerce.Response{}, err
		}
		p, err := c.svc.UpdateProduct(id, patch)
		return commerce.Respond(p, err, commerce.StatusChanged), nil
	case args[0] == "delete" && len(args) == 2:
		id, err := parseID(args[1])
		if err != nil {
			return commerce.Response{}, err
		}
		err = c.svc.DeleteProduct(id)
		return commerce.Respond(fmt.Sprintf("product %d deleted", id), err, commerce.StatusChanged), nil
	}
	return commerce.Response{}, errUsage
}

func (c *cli) order(args []string) (commerce.Response, error) {
	if len(args) == 1 && args[0] == "list" {
		orders, err := c.svc.Orders()
		return commerce.Respond(orders, err, commerce.StatusRead), nil
	}
	if len(args) != 2 {
		return commerce.Response{}, errUsage
	}
	id, err := parseID(args[1])
	if err != nil {
		return commerce.Response{}, err
	}
	switch args[0] {
	case "get":
		o, err := c.svc.GetOrder(id)
		return commerce.Respond(o, err, commerce.StatusRead), nil
	case "cancel":
		res, err := c.svc.CancelOrder(id)
		return commerce.Respond(res, err, commerce.StatusChanged), nil
	}
	return commerce.Response{}, errUsage
}

func (c *cli) export(args []string) (commerce.Response, error) {
	if len(args) == 0 {
		return commerce.Response{}, errUsage
	}
	fs := flag.NewFlagSet("export "+args[0], flag.ContinueOnError)
	var sink export.Sink
	switch args[0] {
	case "sqlite":
		out := fs.String("out", env("EXPORT_SQLITE", "./export.db"), "SQLite file to write")
		if err := fs.Parse(args[1:]); err != nil {
			return commerce.Response{}, err
		}
		s, err := export.NewSQLiteSink(*out)
		if err != nil {
			return commerce.Response{}, err
		}
		sink = s
	case "s3":
		bucket := fs.String("bucket", "", "destination bucket")
		prefix := fs.String("prefix", "", "key prefix")
		pathStyle := fs.Bool("path-style", false, "use path-style addressing")
		if err := fs.Parse(args[1:]); err != nil {
			return commerce.Response{}, err
		}
		if *bucket == "" {
			return commerce.Response{}, fmt.Errorf("export s3: -bucket is required")
		}
		sink = export.NewS3Sink(*bucket, *prefix, awsConfig(), *pathStyle)
	default:
		return commerce.Response{}, errUsage
	}
	defer sink.Close()

	sum, err := export.Run(context.Background(), c.svc.DB(), sink, c.log)
	return commerce.Respond(sum, err, commerce.StatusRead), nil
}

// awsConfig builds an aws.Config from the AWS_* environment variables.
func awsConfig() aws.Config {
	cfg := aws.Config{Region: env("AWS_REGION", "us-east-1")}
	if id := os.Getenv("AWS_ACCESS_KEY_ID"); id != "" {
		creds := aws.Credentials{
			AccessKeyID:     id,
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}
		cfg.Credentials = aws.NewCredentialsCache(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) { return creds, nil },
		))
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}
	return cfg
}

func main() {
	l := newLogger()
	dataDir := env("DATA_DIR", "./data")
	backend := env("STORE_BACKEND", "json")

	if backend == "json" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			l.Fatal().Err(err).Str("data", dataDir).Msg("failed to create data directory")
		}
	}
	s, err := store.New(backend, dataDir, store.WithLogger(l))
	if err != nil {
		l.Fatal().Err(err).Str("backend", backend).Msg("failed to open store")
	}
	svc, err := commerce.Setup(s, l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to prepare shop database")
	}

	c := &cli{svc: svc, log: l}
	resp, err := c.run(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		l.Fatal().Err(err).Msg("failed to write response")
	}
	if !resp.Success() {
		os.Exit(1)
	}
}
