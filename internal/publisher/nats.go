package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSPublisher fans out vehicle events on core NATS subjects
// <prefix>.<vehicle>.position and <prefix>.<vehicle>.arrival.
type NATSPublisher struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect dials NATS with handlers that keep the connected gauge current.
func Connect(url, name string, m PublisherMetrics) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

func NewNATSPublisher(nc *nats.Conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	if prefix == "" {
		prefix = "fleet"
	}
	return &NATSPublisher{nc: nc, prefix: subjectToken(prefix), logSubjects: logSubjects, metrics: m}
}

type PositionMessage struct {
	VehicleID    string    `json:"vehicleId"`
	DriverID     string    `json:"driverId"`
	Timestamp    time.Time `json:"timestamp"`
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	LocationName string    `json:"locationName,omitempty"`
}

type ArrivalMessage struct {
	VehicleID string    `json:"vehicleId"`
	Stop      string    `json:"stop"`
	Index     uint32    `json:"index"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *NATSPublisher) PublishPosition(msg PositionMessage) error {
	return p.publish(p.Subject(msg.VehicleID, "position"), msg)
}

func (p *NATSPublisher) PublishArrival(msg ArrivalMessage) error {
	return p.publish(p.Subject(msg.VehicleID, "arrival"), msg)
}

// Subject returns the subject an event of kind is published on.
func (p *NATSPublisher) Subject(vehicleID, kind string) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, subjectToken(vehicleID), kind)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
