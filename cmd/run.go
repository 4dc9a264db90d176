package cmd

import (
	"context"
	"errors"

	"github.com/bloomnetwork/bloombridge/bloomtoken"
	"github.com/bloomnetwork/bloombridge/bridge"
	"github.com/bloomnetwork/bloombridge/config"
	"github.com/bloomnetwork/bloombridge/log"
	"github.com/bloomnetwork/bloombridge/relayer"
	"github.com/bloomnetwork/bloombridge/token"
	"github.com/urfave/cli/v2"
)

// RunCmd wires the token ledger, the peg mint controller, the bridge ledger
// and the relayer, and runs them until interrupted.
func RunCmd(cliCtx *cli.Context) error {
	cfg, err := config.Load(cliCtx)
	if err != nil {
		return err
	}
	log.Init(cfg.Log)
	ctx := cliCtx.Context

	ledger, err := token.NewSQLLedger(cfg.Token.DBPath)
	if err != nil {
		return err
	}
	if err := ledger.RegisterMint(ctx, cfg.Token.MintAddr, cfg.Token.Authority); err != nil &&
		!errors.Is(err, token.ErrMintAlreadyRegistered) {
		return err
	}
	// the controller signs issuance with the configured token authority,
	// which in turn is the identity the bridge mints through
	mintCred := token.NewCredential(cfg.Token.Authority)
	controller, err := bloomtoken.New(cfg.Token, ledger, mintCred, nil)
	if err != nil {
		return err
	}
	if err := controller.Initialize(ctx, cfg.Token.Name, cfg.Token.Symbol,
		cfg.Token.Decimals, cfg.Token.Authority); err != nil &&
		!errors.Is(err, bloomtoken.ErrAlreadyInitialized) {
		return err
	}

	bridgeLedger, err := bridge.New(cfg.Bridge, ledger, controller, mintCred)
	if err != nil {
		return err
	}
	if err := bridgeLedger.Initialize(ctx, bridge.InitParams{
		TokenMint:  cfg.Bridge.TokenMint,
		MintGuard:  cfg.Bridge.MintGuard,
		Authority:  cfg.Bridge.Authority,
		Relayer:    cfg.Bridge.Relayer,
		MaxAmount:  cfg.Bridge.MaxAmount,
		MinAmount:  cfg.Bridge.MinAmount,
		FeeRateBPS: cfg.Bridge.FeeRateBPS,
	}); err != nil && !errors.Is(err, bridge.ErrAlreadyInitialized) {
		return err
	}

	relayerSvc, err := relayer.New(cfg.Relayer, bridgeLedger)
	if err != nil {
		return err
	}
	log.Infof("bloombridge node started")
	if err := relayerSvc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
