package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/carequest/questmap-backend/internal/mapspec"
	"github.com/carequest/questmap-backend/internal/theme"
)

// PromptVersion is part of the template cache key. Bump it whenever a prompt
// below changes in a way that invalidates cached artwork or specs.
const PromptVersion = 2

const maxImagePromptLen = 4000

// worldMaterial picks the terrain description for the artwork prompt based on
// the detected specialty.
func worldMaterial(profile theme.Profile) string {
	key := strings.ToLower(profile.ThemeKey)
	specialty := strings.ToLower(profile.Specialty)

	keywordHas := func(sub string) bool {
		for _, k := range profile.ThemeKeywords {
			if strings.Contains(strings.ToLower(k), sub) {
				return true
			}
		}
		return false
	}

	switch {
	case strings.Contains(key, "chiropractic") || strings.Contains(key, "spine") || strings.Contains(key, "back"):
		return "a vibrant world of glowing spine structures, healthy vertebrae, and strong bone formations. Trees are elegant vertebra pillars, ground sparkles with bone fragments. Bright, optimistic, healing energy."
	case strings.Contains(key, "dentist") || strings.Contains(key, "dental"):
		return "a vibrant world made ENTIRELY of teeth, tooth structures, dental tools, and oral care elements. Trees are giant molars and tooth structures, ground is made of tooth fragments and dental elements, everything is dental-themed. Bright, clean, optimistic dental world. NO traditional vegetation, NO medical equipment unrelated to dental care."
	case strings.Contains(key, "nutrition") || strings.Contains(key, "vegetable"):
		return "a colorful world of fresh vegetables, vibrant fruits, and healthy food. Trees are giant colorful vegetables, ground is lush with food elements. Bright, energetic, life-giving."
	case strings.Contains(key, "vitamin") || strings.Contains(key, "supplement"):
		return "a glowing world of bright vitamin bottles, colorful supplement capsules, and nutrient elements. Trees are radiant vitamin bottles, ground sparkles with capsules. Energetic, vibrant, healthful."
	case strings.Contains(key, "medication") || strings.Contains(key, "pharmacy"):
		return "a positive world of healing elements - colorful medicine bottles, bright wellness symbols, health icons. Trees are vibrant health symbols, ground glows with positive medical elements. Optimistic, healing, hopeful."
	case strings.Contains(key, "fissure") || strings.Contains(key, "bowel") || strings.Contains(key, "digestive") ||
		strings.Contains(specialty, "gastroenterology") || strings.Contains(specialty, "digestive") ||
		keywordHas("fiber") || keywordHas("stool") || keywordHas("bowel"):
		return "a vibrant world of healthy digestive elements - colorful fiber strands, glowing water droplets, wellness symbols. Trees are healthy digestive structures, ground sparkles with wellness elements. Bright, positive, healing."
	default:
		return "a vibrant, optimistic world made of positive health and wellness elements. Bright, colorful, energetic themed elements. NO traditional vegetation."
	}
}

// buildImagePrompt produces the artwork generation prompt for one panel.
// continuationLevel is 1-based; levels above 1 add a continuation suffix so
// the panel extends the previous one.
func buildImagePrompt(profile theme.Profile, continuationLevel int) string {
	keywords := profile.ThemeKeywords
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	specialty := profile.Specialty

	prompt := fmt.Sprintf(`Create a vibrant, optimistic TOP-DOWN ZOOMED-OUT game map view showing multiple checkpoints/stages across a themed landscape.

CRITICAL LAYOUT REQUIREMENTS:
- TOP-DOWN VIEW: Bird's eye view looking down at the map
- ZOOMED OUT: Show multiple checkpoints/stages visible across the entire map area
- NO PATH DOTS: Do NOT draw connecting dots, lines, or path patterns between checkpoints
- NO CONNECTION PATTERNS: The map should show the landscape with checkpoints, but NO visible path connections
- Checkpoints should be distributed across the map in a logical progression pattern
- Map should feel like a game world map with multiple locations visible at once

REFERENCE STYLE:
- Top-down view, zoomed out, showing multiple stages
- Parchment/textured background feel
- Multiple checkpoints visible across the terrain
- NO dots connecting checkpoints, NO path lines visible

THEME REQUIREMENTS (CRITICAL - MUST FOLLOW):
- Theme: %s
- Keywords: %s
- World made of: %s
- The ENTIRE terrain/landscape must be constructed from %s-themed elements
- Place %s-themed structures, formations, and elements throughout the map
- DO NOT include medical equipment or elements unrelated to %s
- The landscape itself (ground, terrain features, structures) must be %s-themed

STYLE: Top-down game map view, vibrant, colorful, optimistic, high-detail. Bright lighting, positive energy. NO traditional vegetation, NO people, NO text labels, NO path dots, NO connection lines, NO unrelated medical equipment. Pure themed landscape map with %s theme only.`,
		specialty, strings.Join(keywords, ", "), worldMaterial(profile),
		specialty, specialty, specialty, specialty, specialty)

	if continuationLevel > 1 {
		prompt += fmt.Sprintf("\n\nCONTINUATION: Level %d of same world. Continue visual style and path from previous map.", continuationLevel)
	}

	if len(prompt) > maxImagePromptLen {
		prompt = prompt[:maxImagePromptLen-50]
	}
	return prompt
}

// buildLayoutPrompt asks the vision model to locate the checkpoints inside a
// generated artwork panel.
func buildLayoutPrompt(stepCount int, items []mapspec.ChecklistItem) string {
	var itemsList strings.Builder
	for i, item := range items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}
		fmt.Fprintf(&itemsList, "  %d. %s\n", i+1, title)
	}

	return fmt.Sprintf(`You are analyzing a medical journey map image. This image shows a TOP-DOWN ZOOMED-OUT game map view with multiple checkpoints/stages visible across the terrain.

CRITICAL REQUIREMENTS:
1. This is a TOP-DOWN ZOOMED-OUT map view (bird's eye view)
2. You MUST identify %d checkpoint/stage locations distributed across the map
3. Each checkpoint corresponds to a step in the journey:
%s4. Checkpoints should be distributed across the map in a logical progression pattern (typically from one corner/edge to another)
5. Checkpoints can be positioned at interesting terrain features, structures, or landmarks visible in the map

COORDINATE SYSTEM:
- Coordinates are normalized (0.0 to 1.0) where:
  - x: 0.0 = left edge of image, 1.0 = right edge of image
  - y: 0.0 = top edge of image, 1.0 = bottom edge of image (y increases downward)

NODE PLACEMENT RULES:
- The first node (index 0) should be positioned at a starting location (typically bottom-left or bottom-center, y ~0.7-0.9)
- The last node (index %d) should be positioned at an ending location (typically top-right or top-center, y ~0.1-0.3)
- Intermediate nodes should be distributed across the map in a logical progression
- Nodes should be positioned at visible landmarks, structures, or interesting terrain features

Return ONLY a valid JSON object with this exact structure (no markdown, no code blocks):
{
  "path": [{"x": 0.5, "y": 0.95}, {"x": 0.52, "y": 0.88}, ...],
  "nodes": [{"x": 0.5, "y": 0.95, "index": 0}, {"x": 0.52, "y": 0.88, "index": 1}, ...]
}

REQUIREMENTS:
- The "path" array should have 20-30 points that accurately trace the journey curve from start to end
- The "nodes" array MUST have exactly %d checkpoints (no more, no less)
- Each node must have an "index" field (0, 1, 2, ..., %d)
- All coordinates must be between 0.0 and 1.0
- Nodes must be in order from start (index 0) to end (index %d)`,
		stepCount, itemsList.String(), stepCount-1, stepCount, stepCount-1, stepCount-1)
}

const mapSpecSystemPrompt = "You are a professional game map designer. You MUST return ONLY valid JSON. No markdown, no code blocks, no explanations."

// buildMapSpecPrompt asks for a full JSON map spec directly, used when
// artwork generation is unavailable but the model is not.
func buildMapSpecPrompt(signals mapspec.Signals, nodeCount, startIndex int, items []mapspec.ChecklistItem) string {
	var itemsDesc strings.Builder
	for i, item := range items {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(&itemsDesc, "Step %d: %s - %s\n", startIndex+i+1, item.Title, desc)
	}
	signalsJSON, _ := json.MarshalIndent(signals, "", "  ")

	minNodes := nodeCount
	if minNodes < 2 {
		minNodes = 2
	}
	minPathPoints := minNodes + 2
	if minPathPoints < 8 {
		minPathPoints = 8
	}

	return fmt.Sprintf(`Create a beautiful, detailed, vibrant JSON map spec for a mobile quest game that looks like a rich fantasy island or world map with diverse biomes and landscapes.

CRITICAL REQUIREMENTS FOR VISUAL RICHNESS:
1. Create a WINDING, INTERESTING PATH that snakes through diverse terrain - not a straight line!
2. Include MULTIPLE BIOMES: forests, mountains, beaches, rivers, lakes, deserts, grasslands
3. Add 10-20 DECORATIVE ELEMENTS: trees, buildings, landmarks, rocks, waterfalls, bridges
4. Place nodes at INTERESTING LOCATIONS: near landmarks, on islands, at crossroads
5. Create a COHESIVE THEME that matches the medical/wellness checklist items

Rules:
- Coordinates must be normalized floats between 0 and 1.
- Include exactly %d nodes in order.
- Path should have %d points minimum for smooth curves.
- Theme should reflect checklist signals (nutrition=jungle, medication=city, etc.).
- themeId must be one of: desert_pyramids, jungle_garden, city_vitamins, wellness_generic.
- Use parallax layers for depth (far mountains, near trees).
- Do not include copyrighted game names.

Checklist Items for this map:
%s
Signals:
%s`, minNodes, minPathPoints, itemsDesc.String(), string(signalsJSON))
}

// Schemas for structured output. Nested shapes stay loose where the
// sanitizer can repair them; counts and enums are enforced downstream too.

var pointSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"x", "y"},
	"properties": map[string]any{
		"x": map[string]any{"type": "number"},
		"y": map[string]any{"type": "number"},
	},
}

var mapSpecSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"version", "themeId", "styleTier", "palette", "background", "path", "nodes", "decor", "character", "meta"},
	"properties": map[string]any{
		"version": map[string]any{"type": "integer"},
		"themeId": map[string]any{
			"type": "string",
			"enum": []string{"desert_pyramids", "jungle_garden", "city_vitamins", "wellness_generic"},
		},
		"styleTier": map[string]any{"type": "string"},
		"palette": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"primary", "secondary", "accent", "ground", "sky"},
			"properties": map[string]any{
				"primary":   map[string]any{"type": "string"},
				"secondary": map[string]any{"type": "string"},
				"accent":    map[string]any{"type": "string"},
				"ground":    map[string]any{"type": "string"},
				"sky":       map[string]any{"type": "string"},
			},
		},
		"background": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"parallaxLayers"},
			"properties": map[string]any{
				"parallaxLayers": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"assetId", "speed", "opacity"},
						"properties": map[string]any{
							"assetId": map[string]any{"type": "string"},
							"speed":   map[string]any{"type": "number"},
							"opacity": map[string]any{"type": "number"},
						},
					},
				},
			},
		},
		"path": map[string]any{"type": "array", "items": pointSchema},
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"id", "index", "stageType", "label", "x", "y"},
				"properties": map[string]any{
					"id":        map[string]any{"type": "string"},
					"index":     map[string]any{"type": "integer"},
					"stageType": map[string]any{"type": "string"},
					"label":     map[string]any{"type": "string"},
					"x":         map[string]any{"type": "number"},
					"y":         map[string]any{"type": "number"},
				},
			},
		},
		"decor": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"assetId", "x", "y", "scale", "layer"},
				"properties": map[string]any{
					"assetId": map[string]any{"type": "string"},
					"x":       map[string]any{"type": "number"},
					"y":       map[string]any{"type": "number"},
					"scale":   map[string]any{"type": "number"},
					"layer":   map[string]any{"type": "string"},
				},
			},
		},
		"character": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"skin", "x", "y"},
			"properties": map[string]any{
				"skin": map[string]any{"type": "string"},
				"x":    map[string]any{"type": "number"},
				"y":    map[string]any{"type": "number"},
			},
		},
		"meta": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"source", "seed", "checklistCount"},
			"properties": map[string]any{
				"source":         map[string]any{"type": "string"},
				"seed":           map[string]any{"type": "integer"},
				"checklistCount": map[string]any{"type": "integer"},
			},
		},
	},
}
