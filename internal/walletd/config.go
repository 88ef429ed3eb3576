// Package walletd wires the wallet ledger into a running process.
package walletd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/walletledger/internal/database"
	"github.com/MarkoPoloResearchLab/walletledger/internal/events"
	"github.com/MarkoPoloResearchLab/walletledger/internal/httpapi"
	"github.com/MarkoPoloResearchLab/walletledger/internal/reconcile"
	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
)

const (
	StoreDriverGORM = "gorm"
	StoreDriverPGX  = "pgx"

	defaultDatabaseURL    = "sqlite:///tmp/walletledger.db"
	defaultGRPCListenAddr = ":7000"
	defaultLogLevel       = "info"
)

// Config aggregates runtime settings for walletd.
type Config struct {
	DatabaseURL       string
	StoreDriver       string
	GRPCListenAddr    string
	AMQPURL           string
	AMQPExchange      string
	ReconcileSchedule string
	LogLevel          string
	LogDevelopment    bool
	// ActionPrices overrides entries of the default price table.
	ActionPrices map[string]int64
	HTTP         httpapi.Config
}

// Validate normalizes defaults and rejects inconsistent settings.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if _, err := cfg.PriceTable(); err != nil {
		return err
	}
	if err := reconcile.ValidateSchedule(cfg.ReconcileSchedule); err != nil {
		return err
	}
	return cfg.HTTP.Validate()
}

// ValidateStorage checks only the settings needed to open the database, so
// maintenance commands run without HTTP credentials.
func (cfg *Config) ValidateStorage() error {
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGORM))
	cfg.GRPCListenAddr = defaultIfEmpty(cfg.GRPCListenAddr, defaultGRPCListenAddr)
	cfg.LogLevel = defaultIfEmpty(cfg.LogLevel, defaultLogLevel)
	cfg.ReconcileSchedule = strings.TrimSpace(cfg.ReconcileSchedule)
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		cfg.AMQPExchange = defaultIfEmpty(cfg.AMQPExchange, events.DefaultExchange)
	}

	switch cfg.StoreDriver {
	case StoreDriverGORM:
	case StoreDriverPGX:
		if !database.IsPostgres(cfg.DatabaseURL) {
			return fmt.Errorf("store driver %s requires a postgres database url", StoreDriverPGX)
		}
	default:
		return fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
	return nil
}

// PriceTable returns the default action prices with configured overrides.
func (cfg Config) PriceTable() (ledger.ActionPriceTable, error) {
	if len(cfg.ActionPrices) == 0 {
		return ledger.DefaultActionPrices(), nil
	}
	return ledger.DefaultActionPrices().WithOverrides(cfg.ActionPrices)
}

// ParseActionPrices parses "action=cost,action=cost".
func ParseActionPrices(raw string) (map[string]int64, error) {
	prices := map[string]int64{}
	for _, pair := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(pair)
		if trimmed == "" {
			continue
		}
		name, rawCost, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, fmt.Errorf("%w: %q is not action=cost", ledger.ErrInvalidPriceTable, trimmed)
		}
		cost, err := strconv.ParseInt(strings.TrimSpace(rawCost), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q has a non-integer cost", ledger.ErrInvalidPriceTable, trimmed)
		}
		prices[strings.TrimSpace(name)] = cost
	}
	return prices, nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
