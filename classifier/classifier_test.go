// Copyright (C) 2025 dispatch-core contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-core/models"
)

func TestClassifyPolice(t *testing.T) {
	c := New()
	res := c.Classify("Theft reported", "Someone stole my wallet on the street")

	assert.Equal(t, models.CategoryPolice, res.Category)
	assert.Greater(t, res.Confidence, minConfidence)
	assert.Contains(t, res.MatchedKeywords, "theft")
	assert.Contains(t, res.MatchedKeywords, "stole")
}

func TestClassifyHealth(t *testing.T) {
	c := New()
	res := c.Classify("Man collapsed", "Person unconscious and not breathing, needs ambulance")

	assert.Equal(t, models.CategoryHealth, res.Category)
	assert.NotEmpty(t, res.MatchedKeywords)
}

func TestClassifyInvestigation(t *testing.T) {
	c := New()
	res := c.Classify("Suspected fraud", "Evidence of corruption and embezzlement at the cooperative")

	assert.Equal(t, models.CategoryInvestigation, res.Category)
}

func TestClassifyFallback(t *testing.T) {
	c := New()
	res := c.Classify("Hello", "Nothing matches any keyword set here")

	assert.Equal(t, models.CategoryPolice, res.Category)
	assert.Equal(t, fallbackConfidence, res.Confidence)
	assert.Equal(t, []string{GeneralIncidentTag}, res.MatchedKeywords)
}

func TestClassifyDeterminism(t *testing.T) {
	c := New()
	title, desc := "Robbery with a weapon", "Armed robbery, suspect fled with a gun"

	first := c.Classify(title, desc)
	for i := 0; i < 10; i++ {
		again := c.Classify(title, desc)
		require.Equal(t, first, again)
	}
}

func TestClassifyTieBreaksToEarliestCategory(t *testing.T) {
	// One keyword per category, all matching once: equal confidence everywhere.
	c := NewWithKeywords(map[models.Category][]string{
		models.CategoryHealth:        {"alpha"},
		models.CategoryInvestigation: {"beta"},
		models.CategoryPolice:        {"gamma"},
	})
	res := c.Classify("alpha beta gamma", "")
	assert.Equal(t, models.CategoryHealth, res.Category)
}

func TestClassifyCaseInsensitive(t *testing.T) {
	c := New()
	lower := c.Classify("theft", "stolen wallet")
	upper := c.Classify("THEFT", "STOLEN WALLET")
	assert.Equal(t, lower.Category, upper.Category)
	assert.Equal(t, lower.Confidence, upper.Confidence)
}

func TestClassifyCountsRepeats(t *testing.T) {
	c := New()
	one := c.Classify("theft", "")
	three := c.Classify("theft theft theft", "")
	assert.Greater(t, three.Confidence, one.Confidence)
}
