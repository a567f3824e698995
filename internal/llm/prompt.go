package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rmp4/sql-agent-dashboard/internal/query"
)

const systemPrompt = `You are an AI data analyst assistant.
You help users analyze their data by:
1. Understanding natural language questions about data
2. Generating SQL queries when needed
3. Explaining results clearly
4. Suggesting visualizations

When generating SQL, wrap it in ` + "```sql```" + ` code blocks.

IMPORTANT: After providing the SQL query, you MUST suggest a visualization by adding a JSON block.

Visualization guidelines - Choose the best chart type for the data:

**Table**: detailed data inspection, mixed data types, small datasets
**Bar Chart**: category comparisons, rankings, distribution across categories
**Horizontal Bar**: same as bar but better when category names are long
**Stacked Bar**: showing composition of categories, part-to-whole relationships
**Line Chart**: time series data, trends over time, continuous data
**Area Chart**: similar to line but emphasizes volume/magnitude over time
**Pie Chart**: proportions and percentages, market share (max 7-8 categories)
**Donut Chart**: modern alternative to pie chart with better aesthetics
**Scatter Plot**: correlation between two numeric variables, distribution patterns
**Combo Chart**: comparing different scales (e.g., revenue bars + growth rate line)

REQUIRED FORMAT - Always include this block after your explanation:
` + "```visualization" + `
{
  "type": "bar",
  "xKey": "category",
  "yKeys": ["total_sales"],
  "title": "Sales by Category"
}
` + "```" + `

Valid chart types: "table", "bar", "horizontalBar", "stackedBar", "line", "area", "pie", "donut", "scatter", "combo"

For "combo" charts, split yKeys into "barKeys" and "lineKeys".

Be concise but thorough. Always ask for clarification if the question is ambiguous.`

const exampleQuestion = "Show me top products by revenue"

const exampleAnswer = "I'll help you find the top products by revenue.\n\n" +
	"```sql\nSELECT product_name, SUM(total_amount) AS revenue\nFROM sales\nGROUP BY product_name\nORDER BY revenue DESC\nLIMIT 10;\n```\n\n" +
	"```visualization\n{\n  \"type\": \"bar\",\n  \"xKey\": \"product_name\",\n  \"yKeys\": [\"revenue\"],\n  \"title\": \"Top Products by Revenue\"\n}\n```"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func buildMessages(req Request) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: buildSystemPrompt(req.Schema, req.Rules)},
		{Role: "user", Content: exampleQuestion},
		{Role: "assistant", Content: exampleAnswer},
		{Role: "user", Content: req.Message},
	}
}

func buildSystemPrompt(schema query.Schema, rules []map[string]any) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if len(schema) > 0 {
		b.WriteString("\n\nAvailable database schema:\n")
		tables := make([]string, 0, len(schema))
		for table := range schema {
			tables = append(tables, table)
		}
		sort.Strings(tables)
		for _, table := range tables {
			fmt.Fprintf(&b, "\nTable: %s\n", table)
			for _, column := range schema[table] {
				fmt.Fprintf(&b, "  - %s (%s)", column.Name, column.Type)
				if !column.Nullable {
					b.WriteString(" NOT NULL")
				}
				b.WriteString("\n")
			}
		}
	}

	if len(rules) > 0 {
		b.WriteString("\n\nFollow these rules:\n")
		for _, rule := range rules {
			fmt.Fprintf(&b, "- %s\n", describeRule(rule))
		}
	}
	return b.String()
}

// describeRule prefers a rule's prompt text and falls back to its JSON form.
func describeRule(rule map[string]any) string {
	if prompt, ok := rule["prompt"].(string); ok && strings.TrimSpace(prompt) != "" {
		return strings.TrimSpace(prompt)
	}
	raw, err := json.Marshal(rule)
	if err != nil {
		return fmt.Sprint(rule)
	}
	return string(raw)
}
