// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package classifier maps free-text incident reports to a responder category by
// weighted keyword matching. Classification is deterministic: equal inputs always
// produce equal results, and ties resolve to the earliest-listed category.
package classifier

import (
	"strings"

	"dispatch-core/models"
)

// Result is the classifier output for one report.
type Result struct {
	Category        models.Category `json:"category"`
	Confidence      float64         `json:"confidence"` // 0..100
	MatchedKeywords []string        `json:"matchedKeywords"`
}

// minConfidence is the floor below which the report falls back to the general
// police category.
const minConfidence = 5.0

// fallbackConfidence is reported when no category matched convincingly.
const fallbackConfidence = 50.0

// GeneralIncidentTag marks reports classified by fallback rather than keywords.
const GeneralIncidentTag = "general incident"

type keywordSet struct {
	category models.Category
	keywords []string
}

// Classifier scores report text against per-category keyword sets. The zero
// value is not usable; construct with New or NewWithKeywords.
type Classifier struct {
	// sets are ordered; earlier sets win confidence ties.
	sets []keywordSet
}

// New returns a classifier with the three shipped keyword sets.
func New() *Classifier {
	return NewWithKeywords(map[models.Category][]string{
		models.CategoryHealth: {
			"injury", "injured", "bleeding", "unconscious", "breathing",
			"heart attack", "stroke", "overdose", "poisoning", "ambulance",
			"hospital", "sick", "fever", "seizure", "fracture", "burn",
			"pregnant", "labor", "collapsed", "medical",
		},
		models.CategoryInvestigation: {
			"fraud", "corruption", "embezzlement", "forgery", "smuggling",
			"trafficking", "money laundering", "cybercrime", "blackmail",
			"extortion", "kidnapping", "missing person", "homicide", "murder",
			"investigation", "evidence",
		},
		models.CategoryPolice: {
			"theft", "stole", "stolen", "robbery", "burglary", "assault",
			"fight", "violence", "weapon", "gun", "knife", "threat",
			"vandalism", "accident", "crash", "drunk", "disturbance",
			"trespassing", "noise", "suspicious",
		},
	})
}

// NewWithKeywords builds a classifier from a configured keyword mapping.
// Categories are evaluated in the fixed order health, investigation, police so
// that tie-breaking is stable regardless of map iteration order.
func NewWithKeywords(keywords map[models.Category][]string) *Classifier {
	order := []models.Category{
		models.CategoryHealth,
		models.CategoryInvestigation,
		models.CategoryPolice,
	}
	c := &Classifier{}
	for _, cat := range order {
		set := keywords[cat]
		if len(set) == 0 {
			continue
		}
		lowered := make([]string, len(set))
		for i, kw := range set {
			lowered[i] = strings.ToLower(kw)
		}
		c.sets = append(c.sets, keywordSet{category: cat, keywords: lowered})
	}
	return c
}

// Classify scores title+description and returns the best category. Reports with
// no convincing match fall back to police with the general-incident tag.
func (c *Classifier) Classify(title, description string) Result {
	text := strings.ToLower(title + " " + description)

	best := Result{Confidence: -1}
	for _, set := range c.sets {
		matches := 0
		var matched []string
		for _, kw := range set.keywords {
			if n := strings.Count(text, kw); n > 0 {
				matches += n
				matched = append(matched, kw)
			}
		}
		confidence := float64(matches) / float64(len(set.keywords)) * 100
		// Strict greater-than keeps the earliest category on ties.
		if confidence > best.Confidence {
			best = Result{
				Category:        set.category,
				Confidence:      confidence,
				MatchedKeywords: matched,
			}
		}
	}

	if best.Confidence < minConfidence {
		return Result{
			Category:        models.CategoryPolice,
			Confidence:      fallbackConfidence,
			MatchedKeywords: []string{GeneralIncidentTag},
		}
	}
	return best
}
