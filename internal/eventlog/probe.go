package eventlog

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProbeResult describes the reachability of the turn-record topic.
type ProbeResult struct {
	Broker     string
	Reachable  bool
	TopicFound bool
	Partitions int
	Err        error
	Hint       string
}

// Probe dials the first reachable broker, checks ApiVersions and looks up
// topic. It never produces or consumes.
func Probe(ctx context.Context, brokers, topic string, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return ProbeResult{Err: errors.New("no brokers configured"), Hint: "Set kafka.brokers."}
	}

	dialer := &kafka.Dialer{Timeout: timeout}
	var res ProbeResult
	for _, addr := range addrs {
		res = ProbeResult{Broker: addr}
		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := dialer.DialContext(dctx, "tcp", addr)
		cancel()
		if err != nil {
			res.Err = err
			res.Hint = hint(err)
			continue
		}
		res.Reachable = true
		_ = conn.SetDeadline(time.Now().Add(timeout))
		if _, err := conn.ApiVersions(); err != nil {
			conn.Close()
			res.Err = err
			res.Hint = "Broker incompatible or proxy interfering."
			continue
		}
		parts, err := conn.ReadPartitions(topic)
		conn.Close()
		if err != nil {
			if isUnknownTopic(err) {
				res.Hint = "Topic missing; it is created on first publish when auto-creation is allowed."
				return res
			}
			res.Err = err
			res.Hint = hint(err)
			return res
		}
		for _, p := range parts {
			if p.Topic == topic {
				res.TopicFound = true
				res.Partitions++
			}
		}
		if !res.TopicFound {
			res.Hint = "Topic missing; it is created on first publish when auto-creation is allowed."
		}
		return res
	}
	return res
}

func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func isUnknownTopic(err error) bool {
	var ke kafka.Error
	return errors.As(err, &ke) && ke == kafka.UnknownTopicOrPartition
}

func hint(err error) string {
	if err == nil {
		return ""
	}
	var ke kafka.Error
	if errors.As(err, &ke) {
		switch ke {
		case kafka.TopicAuthorizationFailed:
			return "Missing topic ACL: Write/Describe for produce."
		case kafka.SASLAuthenticationFailed:
			return "Verify SASL mechanism and credentials."
		case kafka.RequestTimedOut:
			return "Broker request timed out; check broker load and network path."
		case kafka.LeaderNotAvailable, kafka.NotLeaderForPartition:
			return "Leader not available; check broker health and metadata propagation."
		}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "Client timeout: check network path, firewall, DNS or advertised.listeners."
	}
	em := strings.ToLower(err.Error())
	switch {
	case strings.Contains(em, "connection refused"):
		return "Nothing listens on the broker address; is Kafka running?"
	case strings.Contains(em, "no such host"):
		return "Broker host does not resolve; check kafka.brokers."
	case strings.Contains(em, "tls"), strings.Contains(em, "certificate"), strings.Contains(em, "eof"):
		return "TLS mismatch or listener not exposed."
	default:
		return ""
	}
}
