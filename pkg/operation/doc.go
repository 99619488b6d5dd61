/*
Package operation runs user level transfers against configured targets.

	+-------------+
	|  Operator   |
	| (targets)   |
	+------+------+
	       |
	+------+------+
	|   Runner    |
	| (parallel)  |
	+------+------+
	       |
	+------+------+
	| Dispatcher  |
	|  (plugins)  |
	+-------------+

🎯 Purpose:
- Resolves target names against the config
- Builds one batch per target from local files or remote paths
- Runs the targets in parallel, the items of a batch in order
- Wires item hooks into the status tracker

⚡ Operations:
- Upload: local directory to many targets, filtered by doublestar patterns
- Pull: remote directory of one target into a local directory
- Delete and RemoveFolders: remote paths on many targets
- List: one remote directory
*/
package operation
