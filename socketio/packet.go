package socketio

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kryptoslogic/assemblyline-exporter/errors"
)

// Engine.IO v4 packet types. Over WebSocket each text frame carries exactly
// one packet.
const (
	engineOpen    byte = '0'
	engineClose   byte = '1'
	enginePing    byte = '2'
	enginePong    byte = '3'
	engineMessage byte = '4'
	engineUpgrade byte = '5'
	engineNoop    byte = '6'
)

// Socket.IO v5 packet types, carried inside Engine.IO message packets
const (
	packetConnect      byte = '0'
	packetDisconnect   byte = '1'
	packetEvent        byte = '2'
	packetAck          byte = '3'
	packetConnectError byte = '4'
	packetBinaryEvent  byte = '5'
	packetBinaryAck    byte = '6'
)

const defaultNamespace = "/"

// openPayload is the body of the Engine.IO open packet
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// packet is a decoded Socket.IO packet
type packet struct {
	Type      byte
	Namespace string
	AckID     int // -1 when absent
	Data      json.RawMessage
}

// encodePacket renders p as an Engine.IO message frame
func encodePacket(p packet) string {
	var b strings.Builder
	b.WriteByte(engineMessage)
	b.WriteByte(p.Type)
	if p.Namespace != "" && p.Namespace != defaultNamespace {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.AckID >= 0 {
		b.WriteString(strconv.Itoa(p.AckID))
	}
	b.Write(p.Data)
	return b.String()
}

// decodePacket parses a Socket.IO packet, the part of an Engine.IO message
// frame after the leading '4'.
func decodePacket(s string) (packet, error) {
	if s == "" {
		return packet{}, errors.WrapInvalid(errors.ErrParsingFailed, "Packet", "decodePacket", "read packet type")
	}

	p := packet{Type: s[0], Namespace: defaultNamespace, AckID: -1}
	switch p.Type {
	case packetConnect, packetDisconnect, packetEvent, packetAck, packetConnectError:
	case packetBinaryEvent, packetBinaryAck:
		return p, errors.WrapInvalid(
			fmt.Errorf("%w: binary packets are not supported", errors.ErrInvalidData),
			"Packet", "decodePacket", "read packet type")
	default:
		return p, errors.WrapInvalid(
			fmt.Errorf("%w: unknown packet type %q", errors.ErrInvalidData, p.Type),
			"Packet", "decodePacket", "read packet type")
	}

	rest := s[1:]
	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			p.Namespace, rest = rest[:i], rest[i+1:]
		} else {
			p.Namespace, rest = rest, ""
		}
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return p, errors.WrapInvalid(err, "Packet", "decodePacket", "read ack id")
		}
		p.AckID, rest = id, rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return p, errors.WrapInvalid(errors.ErrParsingFailed, "Packet", "decodePacket", "read packet data")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// eventPacket builds an event packet for namespace with name and one argument
func eventPacket(namespace, name string, arg any) (packet, error) {
	data, err := json.Marshal([]any{name, arg})
	if err != nil {
		return packet{}, errors.WrapInvalid(err, "Packet", "eventPacket", "marshal event")
	}
	return packet{Type: packetEvent, Namespace: namespace, AckID: -1, Data: data}, nil
}

// decodeEvent splits event data into its name and first argument. Events
// without arguments return a nil payload.
func decodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return "", nil, errors.WrapInvalid(err, "Packet", "decodeEvent", "unmarshal event array")
	}
	if len(parts) == 0 {
		return "", nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty event", errors.ErrInvalidData),
			"Packet", "decodeEvent", "read event name")
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, errors.WrapInvalid(err, "Packet", "decodeEvent", "read event name")
	}
	if len(parts) == 1 {
		return name, nil, nil
	}
	return name, parts[1], nil
}

// connectError extracts the message from a CONNECT_ERROR payload
func connectError(data json.RawMessage) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	if len(data) > 0 {
		return string(data)
	}
	return "namespace connection refused"
}
