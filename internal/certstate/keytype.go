package certstate

// KeyType is a member of the finite, closed set of private-key flavors the
// daemon maintains one issued artifact per, independently tracked (spec §3).
type KeyType string

const (
	ECPrime256v1 KeyType = "ec-prime256v1"
	RSA2048      KeyType = "rsa-2048"
)

// KeyTypes is the closed registry design note §9 calls for: "no runtime
// class patching; treat the mapping as closed under configuration."
var KeyTypes = []KeyType{ECPrime256v1, RSA2048}

func (kt KeyType) Valid() bool {
	for _, k := range KeyTypes {
		if k == kt {
			return true
		}
	}
	return false
}
