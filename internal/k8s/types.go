package k8s

import (
	"fmt"
	"sort"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome is embedded in every result. Message is set when Status is "error"
// and may carry a note (for example "no pods found") on success.
type Outcome struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// OK reports whether the read succeeded.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

func succeeded() Outcome { return Outcome{Status: StatusSuccess} }

func failed(err error) Outcome { return Outcome{Status: StatusError, Message: err.Error()} }

// --- Broad listings ---

// ClusterHealthResult lists node names; an empty list still means the API answered.
type ClusterHealthResult struct {
	Outcome
	Nodes []string `json:"nodes"`
}

// PodInfo is one pod in a cluster-wide listing.
type PodInfo struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	Status      string `json:"status"`
	Ready       string `json:"ready"`
	Restarts    int32  `json:"restarts"`
	Node        string `json:"node"`
	Age         string `json:"age"`
	CPUUsage    string `json:"cpu_usage,omitempty"`
	MemoryUsage string `json:"memory_usage,omitempty"`
}

// PodsResult is the cluster-wide pod listing. MetricsAvailable is false when
// metrics-server could not be reached and usage columns are empty.
type PodsResult struct {
	Outcome
	Pods             []PodInfo `json:"pods"`
	Count            int       `json:"count"`
	MetricsAvailable bool      `json:"metrics_available"`
}

// ServicePortInfo is one port of a service.
type ServicePortInfo struct {
	Name       string `json:"name,omitempty"`
	Port       int32  `json:"port"`
	TargetPort string `json:"target_port"`
	Protocol   string `json:"protocol"`
	NodePort   int32  `json:"node_port,omitempty"`
}

// ServiceInfo is one service in a cluster-wide listing.
type ServiceInfo struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Type        string            `json:"type"`
	ClusterIP   string            `json:"cluster_ip"`
	ExternalIPs []string          `json:"external_ips,omitempty"`
	Ports       []ServicePortInfo `json:"ports"`
	Age         string            `json:"age"`
}

// ServicesResult lists every service.
type ServicesResult struct {
	Outcome
	Services []ServiceInfo `json:"services"`
	Count    int           `json:"count"`
}

// DeploymentInfo is one deployment with its replica counts.
type DeploymentInfo struct {
	Name              string `json:"name"`
	Namespace         string `json:"namespace"`
	Replicas          int32  `json:"replicas"`
	ReadyReplicas     int32  `json:"ready_replicas"`
	AvailableReplicas int32  `json:"available_replicas"`
	Age               string `json:"age"`
}

// DeploymentsResult lists every deployment.
type DeploymentsResult struct {
	Outcome
	Deployments []DeploymentInfo `json:"deployments"`
	Count       int              `json:"count"`
}

// NodeInfo is one node. Status follows kubectl: "Ready", "NotReady" or
// "Unknown", with ",SchedulingDisabled" appended for cordoned nodes.
type NodeInfo struct {
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	Roles          []string `json:"roles"`
	KubeletVersion string   `json:"kubelet_version"`
	InternalIP     string   `json:"internal_ip"`
	CPUCapacity    string   `json:"cpu_capacity"`
	MemoryCapacity string   `json:"memory_capacity"`
	Age            string   `json:"age"`
}

// NodesResult lists every node.
type NodesResult struct {
	Outcome
	Nodes []NodeInfo `json:"nodes"`
	Count int        `json:"count"`
}

// EndpointAddress is one backend address of a service.
type EndpointAddress struct {
	IP       string `json:"ip"`
	NodeName string `json:"node_name,omitempty"`
	PodName  string `json:"pod_name,omitempty"`
	Ready    bool   `json:"ready"`
}

// EndpointPortInfo is one port exposed by an endpoint.
type EndpointPortInfo struct {
	Name     string `json:"name,omitempty"`
	Port     int32  `json:"port"`
	Protocol string `json:"protocol"`
}

// EndpointInfo groups the addresses and ports behind one service.
type EndpointInfo struct {
	Name      string             `json:"name"`
	Namespace string             `json:"namespace"`
	Addresses []EndpointAddress  `json:"addresses"`
	Ports     []EndpointPortInfo `json:"ports"`
}

// EndpointsResult lists endpoints in every namespace.
type EndpointsResult struct {
	Outcome
	Endpoints []EndpointInfo `json:"endpoints"`
	Count     int            `json:"count"`
}

// EventInfo is one cluster event. Object is "Kind/name".
type EventInfo struct {
	Namespace string `json:"namespace"`
	Type      string `json:"type"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Object    string `json:"object"`
	Count     int32  `json:"count"`
	LastSeen  string `json:"last_seen"`
}

// EventsResult holds the most recent cluster events.
type EventsResult struct {
	Outcome
	Events []EventInfo `json:"events"`
	Count  int         `json:"count"`
}

// NamespaceInfo is one namespace and its phase.
type NamespaceInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Age    string `json:"age"`
}

// NamespacesResult lists every namespace.
type NamespacesResult struct {
	Outcome
	Namespaces []NamespaceInfo `json:"namespaces"`
	Count      int             `json:"count"`
}

// --- Deep dive ---

// ContainerInfo names a container and its image.
type ContainerInfo struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// PodDescription is the detail view of one pod. RestartCount sums all
// containers.
type PodDescription struct {
	Outcome
	Name         string          `json:"name"`
	Namespace    string          `json:"namespace"`
	PodStatus    string          `json:"pod_status"`
	Node         string          `json:"node"`
	RestartCount int32           `json:"restart_count"`
	Conditions   []string        `json:"conditions"`
	Containers   []ContainerInfo `json:"containers"`
}

// PodLogsResult holds the tail of a pod's log, one entry per line.
type PodLogsResult struct {
	Outcome
	Pod       string   `json:"pod"`
	Namespace string   `json:"namespace"`
	Container string   `json:"container,omitempty"`
	Logs      []string `json:"logs"`
}

// ServiceDescription is the detail view of one service.
type ServiceDescription struct {
	Outcome
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Type      string            `json:"type"`
	ClusterIP string            `json:"cluster_ip"`
	Selector  map[string]string `json:"selector"`
	Ports     []ServicePortInfo `json:"ports"`
}

// DeploymentDescription is the detail view of one deployment.
type DeploymentDescription struct {
	Outcome
	Name              string          `json:"name"`
	Namespace         string          `json:"namespace"`
	Replicas          int32           `json:"replicas"`
	AvailableReplicas int32           `json:"available_replicas"`
	Strategy          string          `json:"strategy"`
	Containers        []ContainerInfo `json:"containers"`
}

// NodeCondition is one entry of a node's status conditions.
type NodeCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// NodeStatusResult reports a node's conditions and resources.
type NodeStatusResult struct {
	Outcome
	Name        string            `json:"name"`
	Conditions  []NodeCondition   `json:"conditions"`
	Capacity    map[string]string `json:"capacity"`
	Allocatable map[string]string `json:"allocatable"`
}

// RBACEvent is an event whose message reports a denied request.
type RBACEvent struct {
	Namespace string `json:"namespace"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Object    string `json:"object"`
}

// RoleBindingInfo is a role or cluster role binding. RoleRef is "Kind/name".
type RoleBindingInfo struct {
	Name      string   `json:"name"`
	Namespace string   `json:"namespace,omitempty"`
	RoleRef   string   `json:"role_ref"`
	Subjects  []string `json:"subjects"`
}

// RBACResult gathers authorization failures and the bindings that may
// explain them.
type RBACResult struct {
	Outcome
	RBACEvents          []RBACEvent       `json:"rbac_events"`
	RoleBindings        []RoleBindingInfo `json:"role_bindings"`
	ClusterRoleBindings []RoleBindingInfo `json:"cluster_role_bindings"`
}

// PersistentVolumeInfo is one persistent volume.
type PersistentVolumeInfo struct {
	Name          string   `json:"name"`
	Capacity      string   `json:"capacity"`
	AccessModes   []string `json:"access_modes"`
	ReclaimPolicy string   `json:"reclaim_policy"`
	Status        string   `json:"status"`
	StorageClass  string   `json:"storage_class,omitempty"`
	Claim         string   `json:"claim,omitempty"`
}

// PersistentVolumeClaimInfo is one claim. VolumeName is "Unbound" until
// the claim is bound.
type PersistentVolumeClaimInfo struct {
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace"`
	AccessModes []string `json:"access_modes"`
	VolumeName  string   `json:"volume_name"`
	Status      string   `json:"status"`
	Requested   string   `json:"requested,omitempty"`
}

// VolumesResult lists volumes and claims.
type VolumesResult struct {
	Outcome
	PersistentVolumes      []PersistentVolumeInfo      `json:"persistent_volumes"`
	PersistentVolumeClaims []PersistentVolumeClaimInfo `json:"persistent_volume_claims"`
}

// JobInfo is a job with active pods.
type JobInfo struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	ActivePods  int32  `json:"active_pods"`
	Completions string `json:"completions"`
	Parallelism string `json:"parallelism"`
	Age         string `json:"age"`
}

// CronJobInfo is one cron job.
type CronJobInfo struct {
	Name         string `json:"name"`
	Namespace    string `json:"namespace"`
	Schedule     string `json:"schedule"`
	ActiveJobs   int    `json:"active_jobs"`
	Suspended    bool   `json:"suspended"`
	LastSchedule string `json:"last_schedule,omitempty"`
}

// JobsResult lists running jobs and all cron jobs.
type JobsResult struct {
	Outcome
	RunningJobs []JobInfo     `json:"running_jobs"`
	CronJobs    []CronJobInfo `json:"cronjobs"`
}

// IngressInfo is one ingress with its hosts.
type IngressInfo struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Class       string            `json:"class,omitempty"`
	Hosts       []string          `json:"hosts"`
	Annotations map[string]string `json:"annotations"`
}

// IngressesResult lists every ingress.
type IngressesResult struct {
	Outcome
	Ingresses []IngressInfo `json:"ingress_resources"`
}

// AffinityDetails holds each affinity rule object, or the string "None".
type AffinityDetails struct {
	NodeAffinity    any `json:"node_affinity"`
	PodAffinity     any `json:"pod_affinity"`
	PodAntiAffinity any `json:"pod_anti_affinity"`
}

// PodAffinityResult describes where a pod may be scheduled.
type PodAffinityResult struct {
	Outcome
	Pod             string            `json:"pod"`
	Namespace       string            `json:"namespace"`
	AffinityDetails AffinityDetails   `json:"affinity_details"`
	NodeSelector    map[string]string `json:"node_selector"`
	Tolerations     []string          `json:"tolerations"`
}

// ObjectYAMLResult holds one object rendered as YAML.
type ObjectYAMLResult struct {
	Outcome
	ResourceType string `json:"resource_type"`
	Name         string `json:"name"`
	Namespace    string `json:"namespace,omitempty"`
	YAMLContent  string `json:"yaml_content"`
}

// --- Conversion helpers ---

func formatAge(created time.Time) string {
	if created.IsZero() {
		return ""
	}
	d := time.Since(created)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// podReadyString returns "N/M" where N is ready containers and M is total.
func podReadyString(statuses []corev1.ContainerStatus) string {
	ready := 0
	for _, s := range statuses {
		if s.Ready {
			ready++
		}
	}
	return fmt.Sprintf("%d/%d", ready, len(statuses))
}

func totalRestarts(statuses []corev1.ContainerStatus) int32 {
	var total int32
	for _, s := range statuses {
		total += s.RestartCount
	}
	return total
}

func formatPodConditions(conditions []corev1.PodCondition) []string {
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		out = append(out, fmt.Sprintf("%s=%s", c.Type, c.Status))
	}
	return out
}

// nodeRoles extracts roles from node-role.kubernetes.io/* labels.
func nodeRoles(labels map[string]string) []string {
	const prefix = "node-role.kubernetes.io/"
	var roles []string
	for k := range labels {
		if strings.HasPrefix(k, prefix) {
			roles = append(roles, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(roles)
	if len(roles) == 0 {
		roles = []string{"<none>"}
	}
	return roles
}

func nodeStatus(conditions []corev1.NodeCondition, unschedulable bool) string {
	status := "Unknown"
	for _, c := range conditions {
		if c.Type != corev1.NodeReady {
			continue
		}
		if c.Status == corev1.ConditionTrue {
			status = "Ready"
		} else {
			status = "NotReady"
		}
		break
	}
	if unschedulable {
		status += ",SchedulingDisabled"
	}
	return status
}

func externalAddresses(svc corev1.Service) []string {
	addrs := append([]string(nil), svc.Spec.ExternalIPs...)
	for _, ing := range svc.Status.LoadBalancer.Ingress {
		switch {
		case ing.IP != "":
			addrs = append(addrs, ing.IP)
		case ing.Hostname != "":
			addrs = append(addrs, ing.Hostname)
		}
	}
	return addrs
}

func servicePorts(ports []corev1.ServicePort) []ServicePortInfo {
	out := make([]ServicePortInfo, 0, len(ports))
	for _, p := range ports {
		out = append(out, ServicePortInfo{
			Name:       p.Name,
			Port:       p.Port,
			TargetPort: p.TargetPort.String(),
			Protocol:   string(p.Protocol),
			NodePort:   p.NodePort,
		})
	}
	return out
}

func containerInfos(containers []corev1.Container) []ContainerInfo {
	out := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerInfo{Name: c.Name, Image: c.Image})
	}
	return out
}

func accessModes(modes []corev1.PersistentVolumeAccessMode) []string {
	out := make([]string, 0, len(modes))
	for _, m := range modes {
		out = append(out, string(m))
	}
	return out
}

func resourceList(rl corev1.ResourceList) map[string]string {
	out := make(map[string]string, len(rl))
	for name, q := range rl {
		out[string(name)] = q.String()
	}
	return out
}

// eventTimestamp prefers LastTimestamp, then EventTime, then creation time.
func eventTimestamp(e corev1.Event) time.Time {
	if !e.LastTimestamp.IsZero() {
		return e.LastTimestamp.Time
	}
	if !e.EventTime.Time.IsZero() {
		return e.EventTime.Time
	}
	return e.CreationTimestamp.Time
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// int32OrNA renders an optional count the way kubectl leaves blanks.
func int32OrNA(v *int32) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprint(*v)
}

func replicasOf(v *int32) int32 {
	if v == nil {
		return 1
	}
	return *v
}

// orNone returns v, or "None" when the rule is absent.
func orNone[T any](v *T) any {
	if v == nil {
		return "None"
	}
	return v
}
