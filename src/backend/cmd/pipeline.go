package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hannes/role-anonymizer/src/backend/config"
	"github.com/hannes/role-anonymizer/src/backend/pii"
)

// pipeline is everything a command needs to anonymize text
type pipeline struct {
	anonymizer *pii.Anonymizer
	models     *pii.ModelManager
	masking    *pii.MaskingService
	audit      pii.AuditDB
}

func (p *pipeline) Close() error {
	var firstErr error
	if p.audit != nil {
		if err := p.audit.Close(); err != nil {
			firstErr = err
		}
	}
	if err := p.models.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func loadRules(c *config.Config) (*pii.RuleSet, error) {
	var (
		rules *pii.RuleSet
		err   error
	)
	if c.RulesPath != "" {
		rules, err = pii.LoadRuleFile(c.RulesPath)
	} else {
		rules, err = pii.DefaultRuleSet()
	}
	if err != nil {
		return nil, err
	}
	return rules.WithOverrides(c.WindowSize, c.FallbackPlaceholder)
}

func detectorSettings(c *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"base_url":        c.ModelBaseURL,
		"model_directory": c.ModelDirectory,
	}
}

func auditConfig(c *config.Config) pii.DatabaseConfig {
	db := c.Database
	return pii.DatabaseConfig{
		Driver:       db.Driver,
		Path:         db.Path,
		Host:         db.Host,
		Port:         db.Port,
		Database:     db.Database,
		Username:     db.Username,
		Password:     db.Password,
		SSLMode:      db.SSLMode,
		MaxOpenConns: db.MaxOpenConns,
		MaxIdleConns: db.MaxIdleConns,
		MaxLifetime:  db.MaxLifetimeDuration(),
	}
}

// buildPipeline wires rules, recognizer and optionally the audit store.
func buildPipeline(ctx context.Context, c *config.Config, withAudit bool) (*pipeline, error) {
	rules, err := loadRules(c)
	if err != nil {
		return nil, fmt.Errorf("loading context rules: %w", err)
	}

	anonymizer := pii.NewAnonymizer(rules.Classifier(), log.Logger)
	anonymizer.SetLogReplacements(c.Logging.LogReplacements)

	var audit pii.AuditDB
	if withAudit {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		audit, err = pii.NewAuditDB(dbCtx, auditConfig(c))
		if err != nil {
			return nil, fmt.Errorf("opening audit store: %w", err)
		}
	}

	models := pii.NewModelManager(c.DetectorName, detectorSettings(c))

	log.Debug().
		Str("detector", c.DetectorName).
		Int("rules", len(rules.Rules)).
		Int("window_size", rules.WindowSize).
		Str("fallback", rules.Fallback).
		Msg("pipeline ready")

	return &pipeline{
		anonymizer: anonymizer,
		models:     models,
		masking:    pii.NewMaskingService(models, anonymizer, audit, log.Logger),
		audit:      audit,
	}, nil
}
