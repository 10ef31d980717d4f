// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

// ExecutionLevels computes the Kahn-style topological leveling of the plan's
// dependency graph. Each level is the set of roles whose dependencies are all
// satisfied by earlier levels; the scheduler runs one level at a time with
// intra-level parallelism.
//
// Returns KindInvalidPlan when a depends_on names an unknown role or the
// graph contains a cycle.
func (p *Plan) ExecutionLevels() ([][]string, error) {
	inDegree := make(map[string]int, len(p.Children))
	dependents := make(map[string][]string, len(p.Children))

	for i := range p.Children {
		inDegree[p.Children[i].Role] = len(p.Children[i].DependsOn)
	}
	for i := range p.Children {
		child := &p.Children[i]
		for _, dep := range child.DependsOn {
			if _, ok := inDegree[dep]; !ok {
				return nil, E(KindInvalidPlan, "agent %q depends on unknown role %q", child.Role, dep)
			}
			dependents[dep] = append(dependents[dep], child.Role)
		}
	}

	remaining := len(p.Children)
	var levels [][]string
	for remaining > 0 {
		var level []string
		// Declaration order keeps leveling deterministic.
		for i := range p.Children {
			role := p.Children[i].Role
			if deg, ok := inDegree[role]; ok && deg == 0 {
				level = append(level, role)
			}
		}
		if len(level) == 0 {
			return nil, E(KindInvalidPlan, "circular dependency detected in workflow %s", p.WorkflowID)
		}
		for _, role := range level {
			delete(inDegree, role)
			for _, dependent := range dependents[role] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
		remaining -= len(level)
		levels = append(levels, level)
	}
	return levels, nil
}
