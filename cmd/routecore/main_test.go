package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const graphPath = "../../pkg/kgraph/testdata/eligibility.yaml"

const rulesDoc = `
version: 1.0.0
engine: ">=1.0.0"
default:
  priority: [adyen]
rules:
  - name: us_cards
    select:
      priority: [stripe, checkout]
    when:
      - payment_method == "card" && billing_country == "US"
`

// stripe never takes INR cards, so this rule is dead once selections are
// taken into account.
const deadRulesDoc = `
version: 1.0.0
default:
  priority: [adyen]
rules:
  - name: inr_stripe
    select:
      priority: [stripe]
    when:
      - payment_method == "card" && currency == "INR"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("DEAD_RULE_POLICY", "")
	t.Setenv("LOG_LEVEL", "ERROR")
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"routecore"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	code, _, stderr := run(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "USAGE")

	code, stdout, _ := run(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "whatif")

	code, stdout, _ = run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "routecore "+version+"\n", stdout)

	code, _, stderr = run(t, "serve")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: serve")
}

func TestCompile(t *testing.T) {
	code, stdout, stderr := run(t, "compile", "--graph", graphPath, "--json")
	require.Equal(t, 0, code, stderr)
	var summary struct {
		Version    string   `json:"version"`
		Connectors []string `json:"connectors"`
		Nodes      int      `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &summary))
	assert.NotEmpty(t, summary.Version)
	assert.ElementsMatch(t, []string{"stripe", "adyen", "checkout"}, summary.Connectors)
	assert.Positive(t, summary.Nodes)

	code, stdout, _ = run(t, "compile", "--graph", graphPath, "--dot")
	require.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout, "digraph cgraph {"))

	code, stdout, stderr = run(t, "compile", "--rules", writeFile(t, "rules.yaml", rulesDoc))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"us_cards"`)
	assert.Contains(t, stdout, `"billing_country"`)

	code, _, stderr = run(t, "compile", "--graph", "/nonexistent/eligibility.yaml")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Error:")
}

func TestAnalyze(t *testing.T) {
	code, stdout, stderr := run(t, "analyze", "--graph", graphPath, "--program", writeFile(t, "rules.yaml", rulesDoc))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "us_cards")
	assert.NotContains(t, stdout, " dead")

	code, stdout, _ = run(t, "analyze", "--graph", graphPath, "--program", writeFile(t, "dead.yaml", deadRulesDoc), "--json")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"verdict": "dead"`)
}

func TestEval(t *testing.T) {
	program := writeFile(t, "rules.yaml", rulesDoc)
	input := `{"payment_method":"card","payment_method_type":"credit","card_network":"Visa","currency":"USD","billing_country":"US","capture_method":"automatic"}`

	code, stdout, stderr := run(t, "eval", "--graph", graphPath, "--program", program, "--input", input, "--json")
	require.Equal(t, 0, code, stderr)
	var d struct {
		RuleName   *string  `json:"rule_name"`
		Connectors []string `json:"connectors"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &d))
	require.NotNil(t, d.RuleName)
	assert.Equal(t, "us_cards", *d.RuleName)
	assert.Equal(t, []string{"stripe", "checkout"}, d.Connectors)

	inr := writeFile(t, "inr.json", `{"payment_method":"card","payment_method_type":"credit","card_network":"Mastercard","currency":"INR","billing_country":"IN","capture_method":"automatic"}`)
	code, stdout, _ = run(t, "eval", "--graph", graphPath, "--program", program, "--input", "@"+inr)
	assert.Equal(t, 1, code, "adyen does not take INR credit cards")
	assert.Contains(t, stdout, "connectors: <none>")
	assert.Contains(t, stdout, "rejected: adyen")

	code, _, stderr = run(t, "eval", "--graph", graphPath, "--program", program)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--input is required")
}

func TestEval_RejectsDeadProgram(t *testing.T) {
	input := `{"payment_method":"card","payment_method_type":"credit","card_network":"Visa","currency":"USD","billing_country":"US","capture_method":"automatic"}`
	code, _, stderr := run(t, "eval", "--graph", graphPath, "--program", writeFile(t, "dead.yaml", deadRulesDoc), "--input", input)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "ERR_ACTIVATION_DEAD_RULES")
}

func TestWhatIf(t *testing.T) {
	code, stdout, stderr := run(t, "whatif", "--graph", graphPath,
		"--when", `connector == "stripe" && payment_method == "card"`, "--key", "currency")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, []string{"EUR", "GBP", "USD"}, strings.Fields(stdout))

	code, stdout, stderr = run(t, "whatif", "--graph", graphPath, "--input", `{"payment_method":"card","currency":"INR"}`)
	require.Equal(t, 0, code, stderr)
	conns := strings.Fields(stdout)
	assert.Contains(t, conns, "checkout")
	assert.Contains(t, conns, "worldpay", "unconfigured connectors are eligible")
	assert.NotContains(t, conns, "stripe")
	assert.NotContains(t, conns, "adyen")

	code, stdout, stderr = run(t, "whatif", "--graph", graphPath,
		"--when", `connector == "checkout" && payment_method == "card"`, "--key", "currency")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, strings.Fields(stdout), "JPY")

	code, _, stderr = run(t, "whatif", "--graph", graphPath, "--when", `amount > 5`)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "only == comparisons")
}

func TestLocalPaths(t *testing.T) {
	assert.Equal(t, []string{"rules.yaml", "/etc/routecore/eligibility.yaml"},
		localPaths("rules.yaml", "file:///etc/routecore/eligibility.yaml", "s3://routing/program.json", "sql://default"))
}

func TestHistory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "routing.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	_, err = db.Exec(`CREATE TABLE routing_algorithm (
		algorithm_id TEXT PRIMARY KEY, profile_id TEXT NOT NULL, version TEXT NOT NULL,
		algorithm_data BLOB NOT NULL, active BOOLEAN NOT NULL, modified_at TIMESTAMP NOT NULL)`)
	require.NoError(t, err)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		_, err = db.Exec(`INSERT INTO routing_algorithm VALUES (?, ?, ?, ?, ?, ?)`,
			"algo_"+v, "pro_1", v, []byte("{}"), i == 2, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dsn)

	code, stdout, stderr := run(t, "history", "--profile", "pro_1", "--limit", "2")
	require.Equal(t, 0, code, stderr)
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "* 1.2.0"), lines[0])
	assert.Contains(t, lines[1], "algo_1.1.0")

	code, stdout, stderr = run(t, "history", "--profile", "pro_1", "--json")
	require.Equal(t, 0, code, stderr)
	var entries []struct {
		Version string `json:"version"`
		Active  bool   `json:"active"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "1.0.0", entries[2].Version)
	assert.False(t, entries[2].Active)
}
