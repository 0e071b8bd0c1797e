package loop

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jokke7/tradingbot/internal/decision"
	"github.com/Jokke7/tradingbot/internal/executor"
	"github.com/Jokke7/tradingbot/internal/journal"
	"github.com/Jokke7/tradingbot/internal/recorder"
)

func readJournalLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestJournalSinkWritesDecisions(t *testing.T) {
	trades := journal.NewWriter(t.TempDir(), "trades")
	defer trades.Close()
	sink := JournalSink{Trades: trades}

	sink.OnDecision(decision.Decision{
		Symbol: "BTCUSDT", Action: decision.ActionHold,
		Confidence: 55, Reasoning: "sideways",
	})
	sink.OnDecision(decision.Decision{
		Symbol: "ETHUSDT", Action: decision.ActionBuy,
		Confidence: 80, Reasoning: "oversold", SizeUSD: 75,
	})

	date := time.Now().UTC().Format("2006-01-02")
	lines := readJournalLines(t, trades.Path(date))
	require.Len(t, lines, 2)

	entry := lines[0]["entry"].(map[string]any)
	assert.Equal(t, "decision", entry["kind"])
	d := entry["decision"].(map[string]any)
	assert.Equal(t, "BTCUSDT", d["symbol"])
	assert.Equal(t, "HOLD", d["action"])

	entry = lines[1]["entry"].(map[string]any)
	d = entry["decision"].(map[string]any)
	assert.Equal(t, "BUY", d["action"])
	assert.Equal(t, 75.0, d["size_usd"])
}

func TestJournalSinkWritesTradesAndRecommendations(t *testing.T) {
	dir := t.TempDir()
	trades := journal.NewWriter(dir, "trades")
	recs := journal.NewWriter(dir, "recommendations")
	defer trades.Close()
	defer recs.Close()
	sink := JournalSink{Trades: trades, Recommendations: recs}

	sink.OnTrade(executor.Result{
		Decision: decision.Decision{Symbol: "SOLUSDT", Action: decision.ActionBuy},
		Executed: true, OrderID: "sim-1", QuoteUSD: 50,
	})
	sink.OnRecommendation(recorder.RecommendationRow{
		Symbol: "SOLUSDT", Action: "BUY", AmountUSD: 50, Status: "accepted",
	})

	date := time.Now().UTC().Format("2006-01-02")
	require.Len(t, readJournalLines(t, trades.Path(date)), 1)
	require.Len(t, readJournalLines(t, recs.Path(date)), 1)
}

func TestJournalSinkWithoutWritersIsInert(t *testing.T) {
	var sink JournalSink
	sink.OnDecision(decision.Decision{Symbol: "BTCUSDT", Action: decision.ActionHold})
	sink.OnTrade(executor.Result{})
	sink.OnRecommendation(recorder.RecommendationRow{})
}
