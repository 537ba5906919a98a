package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// ASNDB wraps a local GeoLite2-ASN database. It backfills ASN and
// organization fields when ip-api returns a successful answer with an empty
// "as" string, which happens for smaller allocations.
type ASNDB struct {
	reader *geoip2.Reader
}

// OpenASNDB opens a GeoLite2-ASN mmdb file.
func OpenASNDB(path string) (*ASNDB, error) {
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ASN database: %w", err)
	}
	return &ASNDB{reader: r}, nil
}

// Lookup returns the ASN and organization for an IP.
func (d *ASNDB) Lookup(ipStr string) (uint32, string, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return 0, "", fmt.Errorf("invalid IP: %s", ipStr)
	}
	rec, err := d.reader.ASN(ip)
	if err != nil {
		return 0, "", err
	}
	return uint32(rec.AutonomousSystemNumber), rec.AutonomousSystemOrganization, nil
}

// Close releases the underlying reader.
func (d *ASNDB) Close() error {
	if d.reader == nil {
		return nil
	}
	return d.reader.Close()
}
