package k8s

import (
	"context"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// LogTailLines is the number of trailing log lines PodLogs returns.
const LogTailLines = 10

func defaultNamespace(ns string) string {
	if ns == "" {
		return metav1.NamespaceDefault
	}
	return ns
}

// DescribePod reports a pod's phase, node, containers and total restart count.
func (r *Reader) DescribePod(ctx context.Context, namespace, name string) (PodDescription, error) {
	namespace = defaultNamespace(namespace)
	res := PodDescription{Name: name, Namespace: namespace, Conditions: []string{}, Containers: []ContainerInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	pod, err := cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		err = lookupError(err, "pod", name, namespace)
		res.Outcome = failed(err)
		return res, err
	}

	res.PodStatus = string(pod.Status.Phase)
	res.Node = pod.Spec.NodeName
	res.RestartCount = totalRestarts(pod.Status.ContainerStatuses)
	res.Conditions = formatPodConditions(pod.Status.Conditions)
	res.Containers = containerInfos(pod.Spec.Containers)
	res.Outcome = succeeded()
	return res, nil
}

// PodLogs returns the last LogTailLines lines of a pod's log. container may
// be empty for single-container pods.
func (r *Reader) PodLogs(ctx context.Context, namespace, name, container string) (PodLogsResult, error) {
	namespace = defaultNamespace(namespace)
	res := PodLogsResult{Pod: name, Namespace: namespace, Container: container, Logs: []string{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	if _, err := cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{}); err != nil {
		err = lookupError(err, "pod", name, namespace)
		res.Outcome = failed(err)
		return res, err
	}

	tail := int64(LogTailLines)
	raw, err := cs.CoreV1().Pods(namespace).GetLogs(name, &corev1.PodLogOptions{
		Container: container,
		TailLines: &tail,
	}).DoRaw(ctx)
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}

	res.Logs = lastLines(string(raw), LogTailLines)
	res.Outcome = succeeded()
	if len(res.Logs) == 0 {
		res.Message = "The pod has not written any log lines."
	}
	return res, nil
}

func lastLines(s string, n int) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// DescribeService reports a service's type, cluster IP, selector and ports.
func (r *Reader) DescribeService(ctx context.Context, namespace, name string) (ServiceDescription, error) {
	namespace = defaultNamespace(namespace)
	res := ServiceDescription{Name: name, Namespace: namespace, Selector: map[string]string{}, Ports: []ServicePortInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	svc, err := cs.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		err = lookupError(err, "service", name, namespace)
		res.Outcome = failed(err)
		return res, err
	}

	res.Type = string(svc.Spec.Type)
	res.ClusterIP = svc.Spec.ClusterIP
	if svc.Spec.Selector != nil {
		res.Selector = svc.Spec.Selector
	}
	res.Ports = servicePorts(svc.Spec.Ports)
	res.Outcome = succeeded()
	return res, nil
}

// DescribeDeployment reports desired and available replicas and the pod template's containers.
func (r *Reader) DescribeDeployment(ctx context.Context, namespace, name string) (DeploymentDescription, error) {
	namespace = defaultNamespace(namespace)
	res := DeploymentDescription{Name: name, Namespace: namespace, Containers: []ContainerInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	d, err := cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		err = lookupError(err, "deployment", name, namespace)
		res.Outcome = failed(err)
		return res, err
	}

	res.Replicas = replicasOf(d.Spec.Replicas)
	res.AvailableReplicas = d.Status.AvailableReplicas
	res.Strategy = string(d.Spec.Strategy.Type)
	res.Containers = containerInfos(d.Spec.Template.Spec.Containers)
	res.Outcome = succeeded()
	return res, nil
}

// NodeStatus reports a node's conditions, capacity and allocatable resources.
func (r *Reader) NodeStatus(ctx context.Context, name string) (NodeStatusResult, error) {
	res := NodeStatusResult{
		Name:        name,
		Conditions:  []NodeCondition{},
		Capacity:    map[string]string{},
		Allocatable: map[string]string{},
	}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	node, err := cs.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		err = lookupError(err, "node", name, "")
		res.Outcome = failed(err)
		return res, err
	}

	for _, c := range node.Status.Conditions {
		res.Conditions = append(res.Conditions, NodeCondition{
			Type:    string(c.Type),
			Status:  string(c.Status),
			Reason:  c.Reason,
			Message: c.Message,
		})
	}
	res.Capacity = resourceList(node.Status.Capacity)
	res.Allocatable = resourceList(node.Status.Allocatable)
	res.Outcome = succeeded()
	return res, nil
}

// RBAC collects access-denied events and every role and cluster role binding.
func (r *Reader) RBAC(ctx context.Context) (RBACResult, error) {
	res := RBACResult{
		RBACEvents:          []RBACEvent{},
		RoleBindings:        []RoleBindingInfo{},
		ClusterRoleBindings: []RoleBindingInfo{},
	}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	events, err := cs.CoreV1().Events(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, e := range events.Items {
		if !strings.Contains(strings.ToLower(e.Message), "denied") {
			continue
		}
		res.RBACEvents = append(res.RBACEvents, RBACEvent{
			Namespace: e.Namespace,
			Type:      e.Type,
			Message:   e.Message,
			Object:    e.InvolvedObject.Kind + "/" + e.InvolvedObject.Name,
		})
	}

	rbs, err := cs.RbacV1().RoleBindings(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, rb := range rbs.Items {
		ns := rb.Namespace
		if ns == "" {
			ns = "N/A"
		}
		res.RoleBindings = append(res.RoleBindings, RoleBindingInfo{
			Name:      rb.Name,
			Namespace: ns,
			RoleRef:   rb.RoleRef.Kind + "/" + rb.RoleRef.Name,
			Subjects:  subjectNames(rb.Subjects),
		})
	}

	crbs, err := cs.RbacV1().ClusterRoleBindings().List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, crb := range crbs.Items {
		res.ClusterRoleBindings = append(res.ClusterRoleBindings, RoleBindingInfo{
			Name:     crb.Name,
			RoleRef:  crb.RoleRef.Kind + "/" + crb.RoleRef.Name,
			Subjects: subjectNames(crb.Subjects),
		})
	}

	res.Outcome = succeeded()
	return res, nil
}

// Volumes lists persistent volumes and claims.
func (r *Reader) Volumes(ctx context.Context) (VolumesResult, error) {
	res := VolumesResult{
		PersistentVolumes:      []PersistentVolumeInfo{},
		PersistentVolumeClaims: []PersistentVolumeClaimInfo{},
	}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	pvs, err := cs.CoreV1().PersistentVolumes().List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, pv := range pvs.Items {
		info := PersistentVolumeInfo{
			Name:          pv.Name,
			Capacity:      "Unknown",
			AccessModes:   accessModes(pv.Spec.AccessModes),
			ReclaimPolicy: string(pv.Spec.PersistentVolumeReclaimPolicy),
			Status:        string(pv.Status.Phase),
			StorageClass:  pv.Spec.StorageClassName,
		}
		if q, ok := pv.Spec.Capacity[corev1.ResourceStorage]; ok {
			info.Capacity = q.String()
		}
		if ref := pv.Spec.ClaimRef; ref != nil {
			info.Claim = ref.Namespace + "/" + ref.Name
		}
		res.PersistentVolumes = append(res.PersistentVolumes, info)
	}

	pvcs, err := cs.CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, pvc := range pvcs.Items {
		info := PersistentVolumeClaimInfo{
			Name:        pvc.Name,
			Namespace:   pvc.Namespace,
			AccessModes: accessModes(pvc.Spec.AccessModes),
			VolumeName:  pvc.Spec.VolumeName,
			Status:      string(pvc.Status.Phase),
		}
		if info.VolumeName == "" {
			info.VolumeName = "Unbound"
		}
		if q, ok := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; ok {
			info.Requested = q.String()
		}
		res.PersistentVolumeClaims = append(res.PersistentVolumeClaims, info)
	}

	res.Outcome = succeeded()
	return res, nil
}

// Jobs lists jobs with active pods and every cron job.
func (r *Reader) Jobs(ctx context.Context) (JobsResult, error) {
	res := JobsResult{RunningJobs: []JobInfo{}, CronJobs: []CronJobInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	jobs, err := cs.BatchV1().Jobs(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, j := range jobs.Items {
		if j.Status.Active == 0 {
			continue
		}
		res.RunningJobs = append(res.RunningJobs, JobInfo{
			Name:        j.Name,
			Namespace:   j.Namespace,
			ActivePods:  j.Status.Active,
			Completions: int32OrNA(j.Spec.Completions),
			Parallelism: int32OrNA(j.Spec.Parallelism),
			Age:         formatAge(j.CreationTimestamp.Time),
		})
	}

	cronJobs, err := cs.BatchV1().CronJobs(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, cj := range cronJobs.Items {
		info := CronJobInfo{
			Name:       cj.Name,
			Namespace:  cj.Namespace,
			Schedule:   cj.Spec.Schedule,
			ActiveJobs: len(cj.Status.Active),
			Suspended:  cj.Spec.Suspend != nil && *cj.Spec.Suspend,
		}
		if cj.Status.LastScheduleTime != nil {
			info.LastSchedule = formatEventTime(cj.Status.LastScheduleTime.Time)
		}
		res.CronJobs = append(res.CronJobs, info)
	}

	res.Outcome = succeeded()
	return res, nil
}

// Ingresses lists ingress resources with their hosts and annotations.
func (r *Reader) Ingresses(ctx context.Context) (IngressesResult, error) {
	res := IngressesResult{Ingresses: []IngressInfo{}}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	list, err := cs.NetworkingV1().Ingresses(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		err = diagnoseClientError(err)
		res.Outcome = failed(err)
		return res, err
	}
	for _, ing := range list.Items {
		info := IngressInfo{
			Name:        ing.Name,
			Namespace:   ing.Namespace,
			Hosts:       []string{},
			Annotations: map[string]string{},
		}
		if ing.Spec.IngressClassName != nil {
			info.Class = *ing.Spec.IngressClassName
		}
		for _, rule := range ing.Spec.Rules {
			if rule.Host != "" {
				info.Hosts = append(info.Hosts, rule.Host)
			}
		}
		for k, v := range ing.Annotations {
			info.Annotations[k] = v
		}
		res.Ingresses = append(res.Ingresses, info)
	}

	res.Outcome = succeeded()
	return res, nil
}

// PodAffinity reports the scheduling constraints placed on a pod.
func (r *Reader) PodAffinity(ctx context.Context, namespace, name string) (PodAffinityResult, error) {
	namespace = defaultNamespace(namespace)
	res := PodAffinityResult{
		Pod:       name,
		Namespace: namespace,
		AffinityDetails: AffinityDetails{
			NodeAffinity:    "None",
			PodAffinity:     "None",
			PodAntiAffinity: "None",
		},
		NodeSelector: map[string]string{},
		Tolerations:  []string{},
	}
	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	pod, err := cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		err = lookupError(err, "pod", name, namespace)
		res.Outcome = failed(err)
		return res, err
	}

	if aff := pod.Spec.Affinity; aff != nil {
		res.AffinityDetails = AffinityDetails{
			NodeAffinity:    orNone(aff.NodeAffinity),
			PodAffinity:     orNone(aff.PodAffinity),
			PodAntiAffinity: orNone(aff.PodAntiAffinity),
		}
	}
	for k, v := range pod.Spec.NodeSelector {
		res.NodeSelector[k] = v
	}
	for _, t := range pod.Spec.Tolerations {
		res.Tolerations = append(res.Tolerations, formatToleration(t))
	}
	res.Outcome = succeeded()
	return res, nil
}

func formatToleration(t corev1.Toleration) string {
	s := t.Key
	if t.Operator == corev1.TolerationOpEqual || t.Value != "" {
		s += "=" + t.Value
	}
	if t.Effect != "" {
		s += ":" + string(t.Effect)
	}
	if s == "" {
		s = string(corev1.TolerationOpExists)
	}
	return s
}

func subjectNames(subjects []rbacv1.Subject) []string {
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		name := s.Kind + "/" + s.Name
		if s.Namespace != "" {
			name = fmt.Sprintf("%s/%s/%s", s.Kind, s.Namespace, s.Name)
		}
		out = append(out, name)
	}
	return out
}
