package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"

	"github.com/laviprog/speech-api/internal/data"
	"github.com/laviprog/speech-api/internal/service"
)

type createKeyOptions struct {
	Name string
}

type revokeKeyOptions struct {
	ID string
}

func runCreateAPIKey(cmdCtx *commandContext, args []string) error {
	opts, err := parseCreateKeyFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withDatabase(cmdCtx, func(conns *infra) error {
		svc, err := newAPIKeyService(cmdCtx, conns)
		if err != nil {
			return err
		}
		issued, err := svc.Issue(ctx, opts.Name)
		if err != nil {
			return err
		}
		return printIssuedKey(cmdCtx, issued)
	})
}

func runRevokeAPIKey(cmdCtx *commandContext, args []string) error {
	opts, err := parseRevokeKeyFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	return withDatabase(cmdCtx, func(conns *infra) error {
		svc, err := newAPIKeyService(cmdCtx, conns)
		if err != nil {
			return err
		}
		if err := svc.Revoke(ctx, opts.ID); err != nil {
			return err
		}
		return writef(cmdCtx.Out, "API key %s revoked\n", opts.ID)
	})
}

func newAPIKeyService(cmdCtx *commandContext, conns *infra) (*service.APIKeyService, error) {
	return service.NewAPIKeyService(service.APIKeyServiceOptions{
		Repo:   data.NewAPIKeyRepo(conns.DB, &data.RealTimeProvider{}),
		Logger: cmdCtx.Logger,
	})
}

func printIssuedKey(cmdCtx *commandContext, issued *service.IssuedAPIKey) error {
	if err := writef(cmdCtx.Out, "id:     %s\nname:   %s\nprefix: %s\n", issued.Key.ID, issued.Key.Name, issued.Key.KeyPrefix); err != nil {
		return err
	}
	if err := writef(cmdCtx.Out, "key:    %s\n\n", issued.Raw); err != nil {
		return err
	}
	return writeln(cmdCtx.Out, "Store the key now; it cannot be shown again.")
}

func parseCreateKeyFlags(args []string) (createKeyOptions, error) {
	fs := flag.NewFlagSet("create-api-key", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts createKeyOptions
	fs.StringVar(&opts.Name, "name", "", "Human readable owner of the key (required)")

	if err := fs.Parse(args); err != nil {
		return createKeyOptions{}, err
	}
	opts.Name = strings.TrimSpace(opts.Name)
	if opts.Name == "" {
		return createKeyOptions{}, errors.New("--name is required")
	}
	return opts, nil
}

func parseRevokeKeyFlags(args []string) (revokeKeyOptions, error) {
	fs := flag.NewFlagSet("revoke-api-key", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts revokeKeyOptions
	fs.StringVar(&opts.ID, "id", "", "API key id (required)")

	if err := fs.Parse(args); err != nil {
		return revokeKeyOptions{}, err
	}
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return revokeKeyOptions{}, errors.New("--id is required")
	}
	return opts, nil
}
