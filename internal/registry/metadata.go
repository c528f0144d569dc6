package registry

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CostTier is the ordinal price class of a tool.
type CostTier int

const (
	CostFree CostTier = iota
	CostLow
	CostMedium
	CostHigh
)

// MaxCostTier is the most expensive tier; scores normalise against it.
const MaxCostTier = CostHigh

var costNames = map[CostTier]string{
	CostFree:   "free",
	CostLow:    "low",
	CostMedium: "medium",
	CostHigh:   "high",
}

func (c CostTier) String() string {
	if s, ok := costNames[c]; ok {
		return s
	}
	return fmt.Sprintf("cost(%d)", int(c))
}

// ParseCostTier reads a tier name. Matching is case-insensitive.
func ParseCostTier(s string) (CostTier, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for tier, name := range costNames {
		if name == s {
			return tier, nil
		}
	}
	return CostFree, fmt.Errorf("unknown cost tier %q", s)
}

func (c CostTier) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

func (c *CostTier) UnmarshalYAML(node *yaml.Node) error {
	tier, err := ParseCostTier(node.Value)
	if err != nil {
		return err
	}
	*c = tier
	return nil
}

// Defaults applied to tools that declare no expectations.
const (
	DefaultReliability    = 95.0
	DefaultLatency        = time.Second
	DefaultMaxConcurrency = 1
)

// ToolMetadata describes a registered tool and its observed performance.
type ToolMetadata struct {
	Name         string
	Description  string
	Capabilities []string
	Category     string
	Tags         []string
	Cost         CostTier
	Version      string
	Disabled     bool

	// MaxConcurrency caps simultaneous invocations. RateLimit is calls per
	// minute; zero means unlimited. Both are advisory for the executor.
	MaxConcurrency int
	RequiresAuth   bool
	RateLimit      int

	// AvgLatency and Reliability (a percentage) start from the declared
	// values and track observations once the tool has been used.
	AvgLatency  time.Duration
	Reliability float64
	Usage       Usage
}

// Usage holds cumulative invocation counters.
type Usage struct {
	Invocations int64
	Successes   int64
	Failures    int64
	LastUsed    time.Time
}

// Enabled reports whether the tool takes part in lookups.
func (m ToolMetadata) Enabled() bool { return !m.Disabled }

// HasCapability reports whether m lists capability, ignoring case.
func (m ToolMetadata) HasCapability(capability string) bool {
	capability = normalize(capability)
	for _, c := range m.Capabilities {
		if normalize(c) == capability {
			return true
		}
	}
	return false
}

// HasTag reports whether m carries tag, ignoring case.
func (m ToolMetadata) HasTag(tag string) bool {
	tag = normalize(tag)
	for _, t := range m.Tags {
		if normalize(t) == tag {
			return true
		}
	}
	return false
}

func (m ToolMetadata) clone() ToolMetadata {
	m.Capabilities = append([]string(nil), m.Capabilities...)
	m.Tags = append([]string(nil), m.Tags...)
	return m
}

// LatencyScore maps a latency onto (0,1]; faster is higher.
func LatencyScore(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d.Seconds())
}

// CostScore maps a tier onto [0,1]; cheaper is higher.
func CostScore(c CostTier) float64 {
	if c < CostFree {
		c = CostFree
	}
	if c > MaxCostTier {
		c = MaxCostTier
	}
	return 1 - float64(c)/float64(MaxCostTier)
}

// ReliabilityScore maps the reliability percentage onto [0,1].
func ReliabilityScore(m ToolMetadata) float64 {
	r := m.Reliability / 100
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// BalancedScore weighs reliability, speed and price 0.5/0.3/0.2.
func BalancedScore(m ToolMetadata) float64 {
	return 0.5*ReliabilityScore(m) + 0.3*LatencyScore(m.AvgLatency) + 0.2*CostScore(m.Cost)
}

// PerformanceScore is reliability scaled by speed.
func PerformanceScore(m ToolMetadata) float64 {
	return ReliabilityScore(m) * LatencyScore(m.AvgLatency)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
