// Copyright 2026 Veristat Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package artifact names the documents a run produces and declares which
// of them go through the pending-then-promote lifecycle.
package artifact

import "strings"

// PendingSuffix marks a draft artifact awaiting validation and promotion.
const PendingSuffix = "_pending"

// Artifact names produced by the pipeline.
const (
	IdentityCard       = "identity_card"
	Profile            = "profile"
	Classification     = "classification"
	ValidationReport   = "validation_report"
	Interpretation     = "interpretation"
	EnhancedAnalytics  = "enhanced_analytics"
	RegressionInsights = "regression_insights"
	CollinearityReport = "collinearity_report"
	LeakageReport      = "leakage_report"
	FeatureGovernance  = "feature_governance"
	BaselineMetrics    = "baseline_metrics"
	TimeseriesSummary  = "timeseries_summary"
	AnomalyReport      = "anomaly_report"
	Personas           = "personas"
	FinalReport        = "final_report"
	TrustReport        = "trust_report"

	// Engine-owned documents.
	RunConfig           = "run_config"
	OrchestratorState   = "orchestrator_state"
	RegressionStatus    = "regression_status"
	ScopeConstraints    = "scope_constraints"
	AnalyticsValidation = "analytics_validation"
	RunHealth           = "run_health"
	InvariantsReport    = "invariants_report"
	ConflictReport      = "conflict_report"
)

// FinalReportFile is the file-form final report under the run directory.
const FinalReportFile = "final_report.md"

// DatasetFile is the sanitized dataset copy ingestion leaves in the run
// directory for downstream steps.
const DatasetFile = "dataset.csv"

// RegressionBundle lists the artifacts the regression step produces as a
// unit. Each member is individually validated and promoted.
var RegressionBundle = []string{
	RegressionInsights,
	CollinearityReport,
	LeakageReport,
	FeatureGovernance,
	BaselineMetrics,
}

// promotable is the closed set of artifacts subject to two-phase
// promotion. Drivers may only write pending variants of these names;
// only the orchestrator writes the promoted name.
var promotable = map[string]bool{
	Profile:            true,
	Classification:     true,
	RegressionInsights: true,
	CollinearityReport: true,
	LeakageReport:      true,
	FeatureGovernance:  true,
	BaselineMetrics:    true,
	EnhancedAnalytics:  true,
	FinalReport:        true,
	TrustReport:        true,
}

// Promotable reports whether name is on the promotion list.
func Promotable(name string) bool {
	return promotable[name]
}

// Pending returns the pending variant of an artifact name.
func Pending(name string) string {
	return name + PendingSuffix
}

// IsPending reports whether name is a pending variant, returning the
// promoted name when it is.
func IsPending(name string) (string, bool) {
	if strings.HasSuffix(name, PendingSuffix) {
		return strings.TrimSuffix(name, PendingSuffix), true
	}
	return "", false
}

// ProducedBy maps each promotable artifact to the step that writes it.
func ProducedBy(name string) string {
	switch name {
	case Profile:
		return "scanner"
	case Classification:
		return "typeident"
	case RegressionInsights, CollinearityReport, LeakageReport, FeatureGovernance, BaselineMetrics:
		return "regression"
	case EnhancedAnalytics:
		return "clusterer"
	case FinalReport:
		return "expositor"
	case TrustReport:
		return "trust"
	default:
		return ""
	}
}
