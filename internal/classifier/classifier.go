// Package classifier implements component C: inspecting on-disk material
// for a (cert-id, key-type) pair and computing its status, per spec §4.3.
package classifier

import (
	"strings"
	"time"

	"github.com/wikimedia/operations-software-certcentral/internal/certlayout"
	"github.com/wikimedia/operations-software-certcentral/internal/certstate"
	"github.com/wikimedia/operations-software-certcentral/internal/x509util"
)

// Subject is the subset of a cert-id's configuration the classifier needs
// to compare against on-disk material: common name and SAN list.
type Subject struct {
	CommonName string
	SANs       []string
}

// Classify runs the seven-step decision of spec §4.3 for a single
// (cert-id, key-type) pair and returns its status.
func Classify(root, certID string, kt certstate.KeyType, want Subject, now time.Time) certstate.Status {
	livePath := certlayout.PublicCertPath(root, certID, kt, certlayout.Live, certlayout.FullChain)

	live, err := x509util.LoadCertificateChain(livePath)
	if err != nil {
		return certstate.Initial
	}

	if x509util.IsSelfSigned(live.Leaf) {
		return certstate.SelfSigned
	}

	if !sameSubject(live.Leaf.Subject.CommonName, live.Leaf.DNSNames, want.CommonName, want.SANs) {
		return certstate.SubjectsChanged
	}

	if !live.Leaf.NotAfter.After(now) {
		return certstate.Expired
	}

	if x509util.NeedsRenewal(live.Leaf, now) {
		return certstate.NeedsRenewal
	}

	newPath := certlayout.PublicCertPath(root, certID, kt, certlayout.New, certlayout.FullChain)
	if newChain, err := x509util.LoadCertificateChain(newPath); err == nil {
		if newChain.Leaf.NotBefore.After(live.Leaf.NotBefore) {
			return certstate.ReadyToBePushed
		}
	}

	return certstate.Valid
}

// sameSubject compares CN and SAN set case-insensitively, as a set
// (multiset collapsed to set, order irrelevant) per spec §4.4's tie-break
// notes and §8's boundary behaviors.
func sameSubject(gotCN string, gotSANs []string, wantCN string, wantSANs []string) bool {
	if !strings.EqualFold(gotCN, wantCN) {
		return false
	}
	return sameSet(gotSANs, wantSANs)
}

func sameSet(a, b []string) bool {
	sa := x509util.SortedUniqueSANs(a)
	sb := x509util.SortedUniqueSANs(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
