// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package compiler

import (
	"github.com/teradata-labs/cadenza/pkg/gates"
	"github.com/teradata-labs/cadenza/pkg/tools"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// validatePlan checks every fail-closed invariant. Anything off rejects
// the whole plan with compile_error.
func validatePlan(plan *types.Plan, gateEngine *gates.Engine) error {
	if plan == nil {
		return types.E(types.KindCompileError, "plan is missing")
	}
	if plan.ParentRole == "" {
		return types.E(types.KindCompileError, "plan has no parent role")
	}
	if len(plan.Children) == 0 {
		return types.E(types.KindCompileError, "plan has no children")
	}
	if plan.MaxParallel < types.MinParallel || plan.MaxParallel > types.MaxParallel {
		return types.E(types.KindCompileError, "max_parallel %d outside [%d, %d]",
			plan.MaxParallel, types.MinParallel, types.MaxParallel)
	}
	if plan.TimeoutSeconds < types.MinTimeoutSecs || plan.TimeoutSeconds > types.MaxTimeoutSecs {
		return types.E(types.KindCompileError, "timeout_seconds %d outside [%d, %d]",
			plan.TimeoutSeconds, types.MinTimeoutSecs, types.MaxTimeoutSecs)
	}

	roles := make(map[string]bool, len(plan.Children))
	for _, child := range plan.Children {
		if child.Role == "" {
			return types.E(types.KindCompileError, "child agent has no role")
		}
		if roles[child.Role] {
			return types.E(types.KindCompileError, "duplicate agent role: %s", child.Role)
		}
		roles[child.Role] = true
	}

	for _, child := range plan.Children {
		if len(child.Tools) > types.MaxAgentTools {
			return types.E(types.KindCompileError, "agent %s requests %d tools, limit is %d",
				child.Role, len(child.Tools), types.MaxAgentTools)
		}
		for _, tool := range child.Tools {
			if !tools.Known(tool) {
				return types.E(types.KindCompileError, "agent %s requests unknown tool %q", child.Role, tool)
			}
		}
		for _, dep := range child.DependsOn {
			if !roles[dep] {
				return types.E(types.KindCompileError, "agent %s depends on unknown role %q", child.Role, dep)
			}
		}
		for _, gate := range child.QualityGates {
			if gate.MaxRetries < 0 || gate.MaxRetries > types.MaxGateRetries {
				return types.E(types.KindCompileError, "agent %s gate %s: max_retries %d outside [0, %d]",
					child.Role, gate.GateID, gate.MaxRetries, types.MaxGateRetries)
			}
			if gateEngine != nil {
				if err := gateEngine.CheckConfig(gate); err != nil {
					return types.Wrap(types.KindCompileError, err, "agent %s gate %s", child.Role, gate.GateID)
				}
			}
		}
	}

	// Cycles are rejected here, not at scheduler entry.
	if _, err := plan.ExecutionLevels(); err != nil {
		return types.Wrap(types.KindCompileError, err, "plan is not a DAG")
	}
	return nil
}
