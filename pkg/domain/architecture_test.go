package domain

import (
	"testing"

	"hujra/testutil"
)

// TestDomainDoesNotImportInternal keeps the record types and rules contract
// independent of every storage backend and transport.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.Any(testutil.InternalImportForbidden, testutil.TransportImportForbidden),
		"domain must stay free of internal and transport packages")
}
