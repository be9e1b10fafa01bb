// Package config holds the pool parameters and the process configuration
// read from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/hicpool/pool-engine/internal/model"
)

const secondsPerDay = 86400

// PremiumTiers is the number of premium-per-risk-point tiers kept per day.
const PremiumTiers = 5

// Params are the fixed pool parameters. All durations are in seconds unless
// the name says otherwise.
type Params struct {
	PoolName string

	WcPoolTargetTimeSec          int64
	DurationToBondMaturitySec    int64
	DurationBondLockNextStateSec int64
	WcExpenseHistoryDays         int64

	YacPerIntervalPpb      int64
	YacIntervalSec         int64
	YacExpenseThresholdPpt int64

	MinYieldPpb int64
	MaxYieldPpb int64

	MinBondPrincipalCu               int64
	MaxBondPrincipalCu               int64
	BondRequiredSecurityReferencePpt int64
	BondPayoutBufferDays             int64

	MinPolicyCreditCu                    int64
	MaxPolicyCreditCu                    int64
	MaxDurationPolicyReconciliationDays  int64
	PolicyReconciliationSafetyMarginDays int64
	MinDurationPolicyPausedDays          int64
	MaxDurationPolicyPausedDays          int64
	DurationPolicyPostLapsedDays         int64
	MaxDurationPolicyLapsedDays          int64

	DailyProcessingOffsetSec int64
	DaylightSavingAdjSec     int64
	TimeZoneOffsetSec        int64

	PoolOperatorFeePpt int64
	TrustFeePpt        int64

	// PremiumTierSurchargePpt scales tier t off tier 0.
	PremiumTierSurchargePpt [PremiumTiers]int64

	PreAuthDurationSec int64

	PremiumAccountPaymentHash    model.Hash
	BondAccountPaymentHash       model.Hash
	FundingAccountPaymentHash    model.Hash
	TrustAccountPaymentHash      model.Hash
	OperatorAccountPaymentHash   model.Hash
	SettlementAccountPaymentHash model.Hash
	AdjustorAccountPaymentHash   model.Hash
}

// DefaultParams returns the production pool parameters.
func DefaultParams() Params {
	return Params{
		PoolName: "HIC Pool # 1",

		WcPoolTargetTimeSec:          90 * secondsPerDay,
		DurationToBondMaturitySec:    90 * secondsPerDay,
		DurationBondLockNextStateSec: 2 * secondsPerDay,
		WcExpenseHistoryDays:         14,

		YacPerIntervalPpb:      20_000_000,
		YacIntervalSec:         3600,
		YacExpenseThresholdPpt: 100,

		MinYieldPpb: 5_000_000,
		MaxYieldPpb: 500_000_000,

		MinBondPrincipalCu:               10_000,
		MaxBondPrincipalCu:               10_000_000,
		BondRequiredSecurityReferencePpt: 200,
		BondPayoutBufferDays:             5,

		MinPolicyCreditCu:                    10_000,
		MaxPolicyCreditCu:                    5_000_000,
		MaxDurationPolicyReconciliationDays:  100,
		PolicyReconciliationSafetyMarginDays: 3,
		MinDurationPolicyPausedDays:          1,
		MaxDurationPolicyPausedDays:          2,
		DurationPolicyPostLapsedDays:         1,
		MaxDurationPolicyLapsedDays:          5,

		DailyProcessingOffsetSec: 0,
		DaylightSavingAdjSec:     3600,
		TimeZoneOffsetSec:        -43200,

		PoolOperatorFeePpt: 50,
		TrustFeePpt:        10,

		PremiumTierSurchargePpt: [PremiumTiers]int64{0, 100, 250, 500, 1000},

		PreAuthDurationSec: 3600,

		PremiumAccountPaymentHash:    model.MustParseHash("0x9701a3e1840f59635c219124a5166d8eb2dfd539967f3c80e19f75e48f7df1fc"),
		BondAccountPaymentHash:       model.MustParseHash("0x23e2f15b66feab75c1e6aee1f874ef01b346636c780216c8ed4d327be495ac84"),
		FundingAccountPaymentHash:    model.MustParseHash("0x523009c7e41b6b3159012103fccff17371fb03621a0873eaff2f3d87cdb5fe36"),
		TrustAccountPaymentHash:      model.MustParseHash("0xd2034e198b9eadf8e1cbe0748ea895a9b61c191942d760814bbf69b40433b55c"),
		OperatorAccountPaymentHash:   model.MustParseHash("0x5dfb70a859b83dcaee084a4338268940533335bc927474a5b53609d685025094"),
		SettlementAccountPaymentHash: model.MustParseHash("0x5dfb70a859b83dcaee084a4338268940533335bc927474a5b53609d685025094"),
		AdjustorAccountPaymentHash:   model.MustParseHash("0x5dfb70a859b83dcaee084a4338268940533335bc927474a5b53609d685025094"),
	}
}

// BondMaturityDays is the bond term expressed in pool days.
func (p Params) BondMaturityDays() int64 { return p.DurationToBondMaturitySec / secondsPerDay }

// AccountPaymentHash returns the payment hash of a pooled account.
func (p Params) AccountPaymentHash(a model.AccountType) model.Hash {
	switch a {
	case model.AccountPremium:
		return p.PremiumAccountPaymentHash
	case model.AccountBond:
		return p.BondAccountPaymentHash
	case model.AccountFunding:
		return p.FundingAccountPaymentHash
	}
	return model.EmptyHash
}

// Config is the process configuration.
type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	NatsURL      string
	Deployer     model.Address
	TimerAddress model.Address
	IsWinterTime bool
	TimerTick    time.Duration
	CacheTTL     time.Duration
}

// Load reads the process configuration from the environment. A .env file in
// the working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		NatsURL:      os.Getenv("NATS_URL"),
		Deployer:     model.Address(getenv("DEPLOYER_ADDRESS", "trust-operator")),
		TimerAddress: model.Address(getenv("TIMER_ADDRESS", "timer")),
		TimerTick:    time.Second,
		CacheTTL:     30 * time.Second,
	}

	var err error
	if v := os.Getenv("POOL_WINTER_TIME"); v != "" {
		if cfg.IsWinterTime, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("config: POOL_WINTER_TIME: %w", err)
		}
	}
	if v := os.Getenv("TIMER_TICK"); v != "" {
		if cfg.TimerTick, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("config: TIMER_TICK: %w", err)
		}
	}
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if cfg.CacheTTL, err = time.ParseDuration(v); err != nil {
			return cfg, fmt.Errorf("config: CACHE_TTL: %w", err)
		}
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
