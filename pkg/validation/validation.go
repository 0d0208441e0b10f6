package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	MinPollInterval = 10 * time.Millisecond
	MaxPollInterval = time.Hour
)

var (
	// PartitionRegex matches "<direction>-<kind>", e.g. outbound-video.
	PartitionRegex = regexp.MustCompile(`^(outbound|inbound)-(audio|video)$`)

	// MetricKeyRegex matches the sample histories kept per partition.
	MetricKeyRegex = regexp.MustCompile(`^(outbound|inbound)-(audio|video)-(loss|bitrate)$`)
)

// ValidatePollInterval validates a polling interval
func ValidatePollInterval(d time.Duration) error {
	if d < MinPollInterval {
		return fmt.Errorf("interval must be at least %s", MinPollInterval)
	}
	if d > MaxPollInterval {
		return fmt.Errorf("interval is too long (max %s)", MaxPollInterval)
	}
	return nil
}

// ValidateDirection validates a polling direction
func ValidateDirection(direction string) error {
	if direction != "outbound" && direction != "inbound" {
		return fmt.Errorf("invalid direction %q (must be outbound or inbound)", direction)
	}
	return nil
}

// ValidatePartition validates a partition name
func ValidatePartition(name string) error {
	if name == "" {
		return fmt.Errorf("partition is required")
	}
	if !PartitionRegex.MatchString(name) {
		return fmt.Errorf("invalid partition %q", name)
	}
	return nil
}

// ValidatePartitions validates a subscription list; duplicates are rejected.
func ValidatePartitions(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if err := ValidatePartition(name); err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("duplicate partition %q", name)
		}
		seen[name] = true
	}
	return nil
}

// ValidateMetricKey validates a summary metric name
func ValidateMetricKey(key string) error {
	if !MetricKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid metric %q", key)
	}
	return nil
}

// ValidateICEServerURL validates a STUN or TURN server URL
func ValidateICEServerURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("ICE server URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid ICE server URL: %w", err)
	}
	switch u.Scheme {
	case "stun", "stuns", "turn", "turns":
	default:
		return fmt.Errorf("invalid ICE server scheme %q (must be stun, stuns, turn or turns)", u.Scheme)
	}
	if strings.TrimSpace(u.Opaque) == "" {
		return fmt.Errorf("ICE server URL must have a host")
	}
	return nil
}
