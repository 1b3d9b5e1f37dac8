package certmgr

import (
	"strings"

	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// iso3166Alpha2 is the set of assigned ISO 3166-1 alpha-2 country codes,
// used to validate certificate subject country fields.
var iso3166Alpha2 = func() map[string]struct{} {
	codes := strings.Fields(`
		AD AE AF AG AI AL AM AO AQ AR AS AT AU AW AX AZ BA BB BD BE BF BG BH BI
		BJ BL BM BN BO BQ BR BS BT BV BW BY BZ CA CC CD CF CG CH CI CK CL CM CN
		CO CR CU CV CW CX CY CZ DE DJ DK DM DO DZ EC EE EG EH ER ES ET FI FJ FK
		FM FO FR GA GB GD GE GF GG GH GI GL GM GN GP GQ GR GS GT GU GW GY HK HM
		HN HR HT HU ID IE IL IM IN IO IQ IR IS IT JE JM JO JP KE KG KH KI KM KN
		KP KR KW KY KZ LA LB LC LI LK LR LS LT LU LV LY MA MC MD ME MF MG MH MK
		ML MM MN MO MP MQ MR MS MT MU MV MW MX MY MZ NA NC NE NF NG NI NL NO NP
		NR NU NZ OM PA PE PF PG PH PK PL PM PN PR PS PT PW PY QA RE RO RS RU RW
		SA SB SC SD SE SG SH SI SJ SK SL SM SN SO SR SS ST SV SX SY SZ TC TD TF
		TG TH TJ TK TL TM TN TO TR TT TV TW TZ UA UG UM US UY UZ VA VC VE VG VI
		VN VU WF WS YE YT ZA ZM ZW`)
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}()

// ValidCountryCode reports whether code is an assigned ISO 3166-1 alpha-2
// country code.
func ValidCountryCode(code string) bool {
	_, ok := iso3166Alpha2[code]
	return ok
}

// validateName checks name format, reserved keywords and global uniqueness
// across both stores.
func (s *Store) validateName(name, field string, verrors *ValidationErrors) {
	if _, reserved := reservedNames[name]; reserved {
		verrors.Add(field, "%q is a reserved internal keyword for certificate management", name)
	}
	if !nameRe.MatchString(name) {
		verrors.Add(field, `use alphanumeric characters, "_" and "-"`)
		return
	}
	exists, err := s.NameExists(name)
	if err != nil {
		verrors.Add(field, "checking name uniqueness: %v", err)
		return
	}
	if exists {
		verrors.Add(field, "a certificate with this name already exists")
	}
}

// commonAttributes carries the cross-variant inputs subject to the shared
// validation pass.
type commonAttributes struct {
	Country     string
	Certificate string
	PrivateKey  string
	Passphrase  string
	KeyLength   int
	SignedBy    string
	CSR         string
	CSRID       string
}

// validateCommonAttributes runs the cross-cutting validation shared by every
// creation variant. All failures are collected into verrors; nothing is
// reported one at a time.
func (s *Store) validateCommonAttributes(attrs commonAttributes, schema string, verrors *ValidationErrors) {
	if attrs.Country != "" && !ValidCountryCode(attrs.Country) {
		verrors.Add(schema+".country", "%q is not a valid country code", attrs.Country)
	}

	certValid := false
	if attrs.Certificate != "" {
		if pki.CountCertificates(attrs.Certificate) == 0 {
			verrors.Add(schema+".certificate", "not a valid certificate")
		} else if _, err := pki.ParseCertificatePEM(attrs.Certificate); err != nil {
			verrors.Add(schema+".certificate", "certificate not in PEM format")
		} else {
			certValid = true
		}
	}

	keyValid := false
	if attrs.PrivateKey != "" {
		if _, err := pki.ParsePrivateKeyPEM(attrs.PrivateKey, attrs.Passphrase); err != nil {
			verrors.Add(schema+".privatekey", "please provide a valid private key with matching passphrase (if any)")
		} else {
			keyValid = true
		}
	}

	if attrs.KeyLength != 0 {
		valid := false
		for _, l := range pki.ValidKeyLengths {
			if attrs.KeyLength == l {
				valid = true
			}
		}
		if !valid {
			verrors.Add(schema+".key_length", "key length must be a valid value (1024, 2048, 4096)")
		}
	}

	if attrs.SignedBy != "" {
		ca, err := s.getRecord(storage.KindAuthority, attrs.SignedBy)
		if err != nil || ca.Certificate == "" || ca.PrivateKey == "" {
			verrors.Add(schema+".signedby", "please provide a valid signing authority")
		}
	}

	if attrs.CSR != "" {
		if _, err := pki.ParseCSRPEM(attrs.CSR); err != nil {
			verrors.Add(schema+".CSR", "please provide a valid CSR")
		}
	}

	if attrs.CSRID != "" {
		rec, err := s.getRecord(storage.KindCertificate, attrs.CSRID)
		if err != nil || rec.CSR == "" {
			verrors.Add(schema+".csr_id", "please provide a valid csr_id with a CSR filed")
		}
	}

	// Cryptographic match check runs only when both blobs parsed cleanly.
	if certValid && keyValid {
		cert, _ := pki.ParseCertificatePEM(attrs.Certificate)
		key, _ := pki.ParsePrivateKeyPEM(attrs.PrivateKey, attrs.Passphrase)
		if !pki.KeyMatchesCertificate(cert, key) {
			verrors.Add(schema+".privatekey", "private key does not match certificate")
		}
	}
}
