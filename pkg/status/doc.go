/*
Package status tracks the items of a transfer run and reports progress.

	+-----------+        hooks        +---------+
	|  plugin   | ------------------> | Tracker |
	| (batches) |                     +----+----+
	+-----------+                          |
	                          +------------+-----------+
	                          |                        |
	                    +-----+-----+           +------+-----+
	                    | Progress  |           |  Summary   |
	                    | (zerolog) |           |  (pterm)   |
	                    +-----------+           +------------+

🎯 Purpose:
- Hands out per-item lifecycle hooks
- Tracks item status (pending, running, done, failed)
- Reports progress while a run is in flight
- Renders the final outcome table

🤝 Interfaces:
- Reporter: Tracks items and progress
- Formatter: Formats items, progress and errors
*/
package status
