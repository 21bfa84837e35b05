package schema

import "github.com/Masterminds/semver/v3"

var forwardAggregatorPlanHash = Capability{
	Name:   "forward_aggregator_plan_hash",
	Query:  "select @@forward_aggregator_plan_hash as f",
	Column: "f",
	Hint:   "Run `set global forward_aggregator_plan_hash = ON` on all nodes in the cluster.",
}

var readAdvancedCounters = Capability{
	Name:   "read_advanced_counters",
	Query:  "select @@read_advanced_counters as r",
	Column: "r",
	Hint:   "Run `set global read_advanced_counters = ON` on all nodes in the cluster for the best experience.",
}

// plancacheUsage reads the gauges on servers without mv_nodes. The memory
// figures only describe the node we are connected to.
var plancacheUsage = Usage{
	CPUCapacity:    Probe{Fixed: 1},
	MemoryCapacity: Probe{Query: "select @@maximum_memory as m", Column: "m"},
	MemoryUsed:     Probe{Query: "show status like 'Total_server_memory'", Column: "Value"},
}

func commitsPositive(delta Record) bool { return delta.Number("commits") > 0 }

// Activities58 reads mv_activities_cumulative, which the server already
// aggregates across the cluster.
func Activities58() *Profile {
	return &Profile{
		Name:       "activities-5.8",
		MinVersion: semver.MustParse("5.8"),
		KeyColumns: []string{"activity_type", "database_name", "activity_name"},
		From:       "mv_activities_cumulative",
		// Our own poll is an activity too; its text comes from mv_queries.
		// The lookup carries no literals so the server's parameterized text
		// still equals the template.
		TextColumn: "query_text",
		TextExpr: "(select q.query_text from mv_queries q " +
			"where q.activity_name = mv_activities_cumulative.activity_name)",
		Fields: []FieldSpec{
			{Name: "Type", Column: "activity_type", Kind: String, Help: "Activity type"},
			{Name: "Database", Column: "database_name", Kind: String, Help: "Database name"},
			{Name: "Name", Column: "activity_name", Kind: String, Help: "Activity name"},
			{Name: "Cpu/s", Column: "cpu_time_ms", Kind: Counter, Rule: RatePerSecond, Scale: 1.0 / 1000,
				Format: FormatPercent, Help: "Sum cpu utilization across the cluster"},
			{Name: "Mem/s", Column: "memory_bs", Kind: Counter, Rule: RatePerSecond,
				Format: FormatBytes, Help: "Memory bytes used in the past second"},
			{Name: "Disk/s", Column: "disk_b", Kind: Counter, Rule: RatePerSecond,
				Format: FormatBytes, Help: "Disk bytes in the past second"},
			{Name: "Net/s", Column: "network_b", Kind: Counter, Rule: RatePerSecond,
				Format: FormatBytes, Help: "Network bytes in the past second"},
			{Name: "Pf/s", Column: "memory_major_faults", Kind: Counter, Rule: RatePerSecond, Advanced: true,
				Format: FormatCount, Help: "Sum page faults across the cluster"},
			{Name: "Lat/q", Column: "elapsed_time_ms", Kind: Counter, Rule: AveragePerOperation,
				Format: FormatTime, Help: "Latency per query"},
			{Name: "Cpu/q", Column: "cpu_time_ms", Kind: Counter, Rule: AveragePerOperation,
				Format: FormatTime, Help: "Cpu time per query"},
			{Name: "CpuW/q", Column: "cpu_wait_time_ms", Kind: Counter, Rule: AveragePerOperation, Advanced: true,
				Format: FormatTime, Help: "Cpu wait per query"},
			{Name: "LockW/q", Column: "lock_time_ms", Kind: Counter, Rule: AveragePerOperation,
				Format: FormatTime, Help: "Lock wait per query"},
			{Name: "DiskW/q", Column: "disk_time_ms", Kind: Counter, Rule: AveragePerOperation, Advanced: true,
				Format: FormatTime, Help: "Disk wait per query"},
			{Name: "NetW/q", Column: "network_time_ms", Kind: Counter, Rule: AveragePerOperation, Advanced: true,
				Format: FormatTime, Help: "Network wait per query"},
			{Name: "Run", Column: "run_count", Kind: Gauge,
				Format: FormatCount, Help: "Currently running"},
			{Name: "Done/s", Column: "done_count", Expr: "success_count + failure_count", Kind: Counter, Rule: RatePerSecond,
				Format: FormatCount, Help: "Finished running"},
		},
		OpsColumns: []string{"run_count", "done_count"},
		Interesting: func(delta Record) bool {
			return delta.Number("run_count") > 0 || delta.Number("done_count") > 0
		},
		CPUField:  "Cpu/s",
		SortField: "Cpu/s",
		Required:  []Capability{forwardAggregatorPlanHash},
		Optional:  []Capability{readAdvancedCounters},
		Usage: Usage{
			CPUCapacity:    Probe{Query: "select sum(num_cpus) s from mv_nodes", Column: "s"},
			MemoryCapacity: Probe{Query: "select sum(max_memory_mb) m from mv_nodes", Column: "m"},
			MemoryUsed:     Probe{Query: "select sum(memory_used_mb) m from mv_nodes", Column: "m"},
		},
	}
}

// PlanCacheSummary57 reads distributed_plancache_summary. Plans without a
// plan_hash are leaf queries with no aggregator counterpart.
func PlanCacheSummary57() *Profile {
	return &Profile{
		Name:        "plancache-summary-5.7",
		MinVersion:  semver.MustParse("5.7"),
		KeyColumns:  []string{"plan_hash"},
		From:        "distributed_plancache_summary where plan_hash is not null",
		TextColumn:  "query_text",
		Fields:      plancacheFields(false),
		OpsColumns:  []string{"commits"},
		Interesting: commitsPositive,
		CPUField:    "CpuUtil",
		SortField:   "CpuUtil",
		Required:    []Capability{forwardAggregatorPlanHash},
		Usage:       plancacheUsage,
	}
}

// PlanCache reads information_schema.plancache on every node. Leaf rows
// are folded into their aggregator row through aggregator_plan_hash.
func PlanCache() *Profile {
	fields := append([]FieldSpec{
		{Name: "PlanId", Column: "plan_id", Kind: String, Help: "Plan identifier"},
	}, plancacheFields(true)...)
	return &Profile{
		Name:        "plancache",
		MinVersion:  semver.MustParse("5.5"),
		KeyColumns:  []string{"plan_hash", "aggregator_plan_hash"},
		From:        "information_schema.plancache",
		TextColumn:  "query_text",
		Fields:      fields,
		OpsColumns:  []string{"commits"},
		Interesting: commitsPositive,
		Correlate: func(worker EntityKey) (EntityKey, bool) {
			parts := worker.Parts()
			if len(parts) != 2 || parts[1] == NullPart || parts[1] == "" {
				return "", false
			}
			// Aggregator rows have no aggregator_plan_hash of their own.
			return NewEntityKey(parts[1], NullPart), true
		},
		CPUField:  "CpuUtil",
		SortField: "CpuUtil",
		Required:  []Capability{forwardAggregatorPlanHash},
		Usage:     plancacheUsage,
	}
}

func plancacheFields(perNode bool) []FieldSpec {
	memory := FieldSpec{Name: "Memory/query", Column: "memory_use", Kind: Counter, Rule: AveragePerOperation,
		Aggregate: Sum, Format: FormatBytes, Help: "Average memory used per execution"}
	if perNode {
		memory.Expr = "commits*average_memory_use"
	}
	return []FieldSpec{
		{Name: "Database", Column: "database_name", Kind: String, Help: "Database name"},
		{Name: "Query", Column: "query_text", Kind: String, Format: FormatQuery, Help: "Parameterized aggregator query"},
		{Name: "Executions/sec", Column: "commits", Kind: Counter, Rule: RatePerSecond,
			Format: FormatCount, Help: "Successful query executions per second"},
		{Name: "RowCount/sec", Column: "rowcount", Kind: Counter, Rule: RatePerSecond,
			Format: FormatCount, Help: "Rows returned by queries per second"},
		{Name: "CpuUtil", Column: "cpu_time", Kind: Counter, Rule: RatePerSecond, Scale: 1.0 / 1000,
			Aggregate: Sum, Format: FormatPercent, Help: "Sum cpu utilization across the cluster"},
		memory,
		{Name: "ExecutionTime/query", Column: "execution_time", Kind: Counter, Rule: AveragePerOperation,
			Format: FormatTime, Help: "Average query latency"},
		{Name: "QueuedTime/query", Column: "queued_time", Kind: Counter, Rule: AveragePerOperation,
			Format: FormatTime, Help: "Average queued time per execution"},
	}
}

// Candidates returns the profiles to choose from for a topology. Server
// aggregated views come first; perNode selects the per-node plan cache.
func Candidates(perNode bool) []*Profile {
	if perNode {
		return []*Profile{PlanCache()}
	}
	return []*Profile{Activities58(), PlanCacheSummary57()}
}
