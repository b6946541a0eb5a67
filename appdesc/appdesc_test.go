package appdesc

import "testing"

const validDescriptor = `
[modules.awesome-module]
hash = "1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef"
transactions = ["has-seq"]

[modules.awesome-module.genesis_config]
key1 = 1
key2 = "value"

[host]

[transactions]
great-tx = "awesome-module"
`

func TestParseValidDescriptor(t *testing.T) {
	desc, err := Parse([]byte(validDescriptor))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mod, ok := desc.Modules["awesome-module"]
	if !ok {
		t.Fatalf("modules[awesome-module] missing")
	}
	if mod.Name != "awesome-module" {
		t.Fatalf("Name = %q, want %q", mod.Name, "awesome-module")
	}
	if len(mod.Transactions) != 1 || mod.Transactions[0] != "has-seq" {
		t.Fatalf("Transactions = %v, want [has-seq]", mod.Transactions)
	}
	if desc.Transactions["great-tx"] != "awesome-module" {
		t.Fatalf("Transactions[great-tx] = %q, want %q", desc.Transactions["great-tx"], "awesome-module")
	}
}

func TestParseRejectsUndeclaredTransactionTarget(t *testing.T) {
	src := `
[modules.m1]
hash = "abcd"

[transactions]
some-tx = "nonexistent-module"
`
	if _, err := Parse([]byte(src)); err == nil {
		t.Fatalf("expected error for transaction naming an undeclared module")
	}
}

func TestParseRejectsMissingHash(t *testing.T) {
	src := `
[modules.m1]
transactions = []
`
	if _, err := Parse([]byte(src)); err == nil {
		t.Fatalf("expected validation error for missing required hash field")
	}
}

func TestParseRejectsEmptyModuleSet(t *testing.T) {
	if _, err := Parse([]byte(`[host]`)); err == nil {
		t.Fatalf("expected validation error for a descriptor with no modules")
	}
}
