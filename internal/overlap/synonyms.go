package overlap

// TableVersion identifies the synonym table revision. Bump it whenever
// a group is added or changed so stored overlap scores stay
// interpretable against the table that produced them.
const TableVersion = 1

// synonymGroups are the canonical concept groups. The first entry of
// each group is its canonical token; every member expands to the whole
// group. Members are stemmed when the lookup index is built.
var synonymGroups = [][]string{
	{"loop", "iteration", "iterate", "for", "while"},
	{"hash_map", "dictionary", "dict", "map", "lookup_table", "key_value"},
	{"recursion", "recursive", "self_call", "call_itself"},
	{"base_case", "terminating_condition", "stopping_condition", "base_condition"},
	{"array", "list", "sequence", "element"},
	{"set", "unique", "distinct"},
	{"stack", "lifo", "push", "pop"},
	{"queue", "fifo", "enqueue", "dequeue"},
	{"tree", "node", "binary_tree", "bst", "subtree"},
	{"graph", "vertex", "edge", "adjacency"},
	{"linked_list", "pointer_chain", "next_pointer"},
	{"sort", "order", "arrange", "rank"},
	{"search", "find", "lookup", "locate"},
	{"binary_search", "halving_search", "bisect"},
	{"dynamic_programming", "dp", "memoization", "memoize", "tabulation"},
	{"divide_and_conquer", "split_and_merge", "halving"},
	{"two_pointer", "left_right", "converging_pointer"},
	{"sliding_window", "window", "moving_window"},
	{"greedy", "locally_optimal", "best_first"},
	{"brute_force", "naive", "exhaustive", "nested_loop"},
	{"time_complexity", "big_o", "runtime", "efficiency", "complexity"},
	{"space_complexity", "memory_usage", "extra_space"},
	{"function", "method", "def", "subroutine", "procedure"},
	{"conditional", "if", "branch", "else", "condition"},
	{"variable", "assignment", "binding"},
	{"return_value", "return", "result", "output"},
	{"parameter", "argument", "input"},
	{"invariant", "property", "guarantee"},
	{"edge_case", "corner_case", "boundary", "special_case"},
	{"infinite_loop", "no_termination", "never_end", "endless"},
	{"index", "subscript", "position", "offset"},
	{"accumulator", "running_total", "counter", "sum"},
}
