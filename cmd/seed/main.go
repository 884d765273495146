// File: cmd/seed/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"kassa-billing/internal/config"
	"kassa-billing/internal/domain/model"
	pg "kassa-billing/internal/infra/db/postgres"
)

// schema is the idempotent DDL for all billing tables.
const schema = `
CREATE TABLE IF NOT EXISTS payment_records (
    id                    UUID PRIMARY KEY,
    user_id               UUID NOT NULL,
    provider_payment_id   TEXT UNIQUE,
    amount                NUMERIC(12,2) NOT NULL,
    currency              TEXT NOT NULL,
    plan                  TEXT NOT NULL,
    coupon_code           TEXT NOT NULL DEFAULT '',
    discount              NUMERIC(12,2) NOT NULL DEFAULT 0,
    status                TEXT NOT NULL,
    provider_status       TEXT NOT NULL DEFAULT '',
    income_amount         NUMERIC(12,2),
    instrument            JSONB,
    authorization_details JSONB,
    card_expires_at       TIMESTAMPTZ,
    capture_idem_key      TEXT,
    note                  TEXT NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL,
    updated_at            TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payment_records_user_plan ON payment_records (user_id, plan);
CREATE INDEX IF NOT EXISTS idx_payment_records_pending ON payment_records (created_at) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS subscriptions (
    id              UUID PRIMARY KEY,
    user_id         UUID NOT NULL,
    plan            TEXT NOT NULL,
    status          TEXT NOT NULL,
    amount          NUMERIC(12,2) NOT NULL,
    currency        TEXT NOT NULL,
    instrument_id   TEXT,
    last_payment_id TEXT,
    next_charge_at  TIMESTAMPTZ,
    fails_count     INT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, plan)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_due ON subscriptions (next_charge_at) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS coupons (
    code       TEXT PRIMARY KEY,
    discount   NUMERIC(5,2) NOT NULL,
    valid_from TIMESTAMPTZ NOT NULL,
    valid_to   TIMESTAMPTZ NOT NULL,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    plan       TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_event_log (
    id          TEXT PRIMARY KEY,
    event_id    TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    payload     JSONB NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    applied     BOOLEAN NOT NULL DEFAULT FALSE,
    note        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_payment_event_log_event_id ON payment_event_log (event_id);
`

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	fmt.Println("schema applied")

	couponRepo := pg.NewCouponRepo(pool)
	now := time.Now().UTC()
	monthly := model.PlanMonthly
	seed := []*model.Coupon{
		{
			Code:      "WELCOME10",
			Discount:  decimal.NewFromInt(10),
			ValidFrom: now,
			ValidTo:   now.AddDate(1, 0, 0),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			Code:      "MONTH33",
			Discount:  decimal.NewFromFloat(33.33),
			ValidFrom: now,
			ValidTo:   now.AddDate(0, 3, 0),
			Active:    true,
			Plan:      &monthly,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	for _, c := range seed {
		if err := couponRepo.Save(ctx, nil, c); err != nil {
			log.Fatalf("seed coupon %q: %v", c.Code, err)
		}
		fmt.Printf("seeded coupon: %s (%s%%)\n", c.Code, c.Discount.String())
	}
	fmt.Println("seeding complete")
}
